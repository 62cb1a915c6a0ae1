package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dusk-indust/roster/internal/userstore"
	"github.com/gorilla/mux"
)

type userRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// maxBodyBytes caps request bodies on the API and the add-user form.
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) apiList(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListAll(r.Context())
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) apiGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	u, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) apiCreate(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := s.store.Create(r.Context(), req.Name, req.Email)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/users/%d", u.ID))
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) apiUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	var req userRequest
	if !decodeBody(w, r, &req) {
		return
	}
	u, err := s.store.Update(r.Context(), userstore.User{ID: id, Name: req.Name, Email: req.Email})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) apiDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := s.store.DeleteByID(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeStoreError maps store outcomes to HTTP statuses. Storage failures are
// logged and reported without engine detail.
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, userstore.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: userstore.ErrNotFound.Error()})
	case errors.Is(err, userstore.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse{Error: userstore.ErrConflict.Error()})
	case errors.Is(err, userstore.ErrInvalid):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("storage failure", "err", err, "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decodeBody reads a JSON request body of at most maxBodyBytes into v. On
// failure it writes the error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return false
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}
