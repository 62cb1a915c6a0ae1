package web

import (
	"errors"
	"net/http"

	"github.com/dusk-indust/roster/internal/userstore"
	"github.com/gorilla/sessions"
)

// Flash messages shown on the users page.
const (
	MsgUserAdded      = "User added successfully!"
	MsgUserDeleted    = "User deleted successfully!"
	MsgEmailExists    = "Email already exists!"
	MsgDeleteFailed   = "Error deleting user!"
	MsgAddFailed      = "Error adding user!"
	MsgFieldsRequired = "Name and email are required!"
	MsgLoadFailed     = "Error loading users!"
)

const (
	flashSuccess = "success"
	flashError   = "error"
)

type usersPage struct {
	Users   []userstore.User
	Success []string
	Errors  []string
}

func (s *Server) handleUsersPage(w http.ResponseWriter, r *http.Request) {
	page := usersPage{
		Success: s.takeFlashes(w, r, flashSuccess),
		Errors:  s.takeFlashes(w, r, flashError),
	}

	users, err := s.store.ListAll(r.Context())
	if err != nil {
		s.logger.Error("list users", "err", err, "request_id", RequestIDFrom(r.Context()))
		page.Errors = append(page.Errors, MsgLoadFailed)
		users = []userstore.User{}
	}
	page.Users = users

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.pages.ExecuteTemplate(w, "users.html", page); err != nil {
		s.logger.Error("render users page", "err", err)
	}
}

func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.flash(w, r, flashError, MsgFieldsRequired)
		http.Redirect(w, r, "/users", http.StatusSeeOther)
		return
	}

	_, err := s.store.Create(r.Context(), r.PostForm.Get("name"), r.PostForm.Get("email"))
	switch {
	case err == nil:
		s.flash(w, r, flashSuccess, MsgUserAdded)
	case errors.Is(err, userstore.ErrConflict):
		s.flash(w, r, flashError, MsgEmailExists)
	case errors.Is(err, userstore.ErrInvalid):
		s.flash(w, r, flashError, MsgFieldsRequired)
	default:
		s.logger.Error("add user", "err", err, "request_id", RequestIDFrom(r.Context()))
		s.flash(w, r, flashError, MsgAddFailed)
	}
	http.Redirect(w, r, "/users", http.StatusSeeOther)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err == nil {
		err = s.store.DeleteByID(r.Context(), id)
	}
	if err != nil {
		s.logger.Error("delete user", "err", err, "request_id", RequestIDFrom(r.Context()))
		s.flash(w, r, flashError, MsgDeleteFailed)
	} else {
		s.flash(w, r, flashSuccess, MsgUserDeleted)
	}
	http.Redirect(w, r, "/users", http.StatusSeeOther)
}

// flash queues msg under key for the next page render.
func (s *Server) flash(w http.ResponseWriter, r *http.Request, key, msg string) {
	session := s.flashSession(r)
	session.AddFlash(msg, key)
	if err := session.Save(r, w); err != nil {
		s.logger.Warn("save flash", "err", err)
	}
}

// flashSession returns the request's flash session. A cookie that fails to
// decode, such as one signed with a previous secret, yields a fresh session.
func (s *Server) flashSession(r *http.Request) *sessions.Session {
	session, err := s.sessions.Get(r, sessionName)
	if err != nil {
		s.logger.Debug("discard flash cookie", "err", err, "request_id", RequestIDFrom(r.Context()))
	}
	return session
}

// takeFlashes returns and clears the messages queued under key.
func (s *Server) takeFlashes(w http.ResponseWriter, r *http.Request, key string) []string {
	session := s.flashSession(r)
	raw := session.Flashes(key)
	if len(raw) == 0 {
		return nil
	}
	if err := session.Save(r, w); err != nil {
		s.logger.Warn("clear flash", "err", err)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if msg, ok := v.(string); ok {
			out = append(out, msg)
		}
	}
	return out
}
