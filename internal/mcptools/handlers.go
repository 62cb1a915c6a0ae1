package mcptools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dusk-indust/roster/internal/userstore"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Messages reported to tool callers. They match the flash messages of the
// web pages.
const (
	MsgUserAdded     = "User added successfully!"
	MsgUserUpdated   = "User updated successfully!"
	MsgUserDeleted   = "User deleted successfully!"
	MsgEmailExists   = "Email already exists!"
	MsgDeleteFailed  = "Error deleting user!"
	MsgStorageFailed = "storage failure, see server logs"
)

// UserService adapts a userstore.Store to MCP tool handlers. Non-success
// outcomes are returned as handler errors, which the SDK reports to the
// client as tool results with IsError set.
type UserService struct {
	store  *userstore.Store
	logger *slog.Logger
}

// NewUserService creates a UserService. A nil logger discards output.
func NewUserService(store *userstore.Store, logger *slog.Logger) *UserService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &UserService{store: store, logger: logger.With("component", "mcptools")}
}

// ListUsers returns every stored user in creation order.
func (s *UserService) ListUsers(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ListUsersInput,
) (*mcp.CallToolResult, ListUsersOutput, error) {
	users, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, ListUsersOutput{}, s.toolError("list_users", err)
	}
	return nil, ListUsersOutput{Users: users, Total: len(users)}, nil
}

// GetUser looks a user up by id, or by email when id is zero.
func (s *UserService) GetUser(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetUserInput,
) (*mcp.CallToolResult, UserOutput, error) {
	var (
		u   userstore.User
		err error
	)
	switch {
	case input.ID != 0:
		u, err = s.store.FindByID(ctx, input.ID)
	case input.Email != "":
		u, err = s.store.FindByEmail(ctx, input.Email)
	default:
		return nil, UserOutput{}, fmt.Errorf("id or email is required")
	}
	if err != nil {
		return nil, UserOutput{}, s.toolError("get_user", err)
	}
	return nil, UserOutput{User: u}, nil
}

// CreateUser stores a new user with a unique email.
func (s *UserService) CreateUser(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CreateUserInput,
) (*mcp.CallToolResult, UserOutput, error) {
	u, err := s.store.Create(ctx, input.Name, input.Email)
	if err != nil {
		return nil, UserOutput{}, s.toolError("create_user", err)
	}
	return nil, UserOutput{User: u, Message: MsgUserAdded}, nil
}

// UpdateUser replaces the name and email of an existing user.
func (s *UserService) UpdateUser(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input UpdateUserInput,
) (*mcp.CallToolResult, UserOutput, error) {
	u, err := s.store.Update(ctx, userstore.User{ID: input.ID, Name: input.Name, Email: input.Email})
	if err != nil {
		return nil, UserOutput{}, s.toolError("update_user", err)
	}
	return nil, UserOutput{User: u, Message: MsgUserUpdated}, nil
}

// DeleteUser removes a user. Deleting an unknown id succeeds.
func (s *UserService) DeleteUser(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input DeleteUserInput,
) (*mcp.CallToolResult, DeleteUserOutput, error) {
	if err := s.store.DeleteByID(ctx, input.ID); err != nil {
		s.logger.Error("delete failed", "tool", "delete_user", "id", input.ID, "err", err)
		return nil, DeleteUserOutput{}, errors.New(MsgDeleteFailed)
	}
	return nil, DeleteUserOutput{ID: input.ID, Message: MsgUserDeleted}, nil
}

// toolError maps store outcomes to the message shown to the client. Storage
// failures are logged and reported without engine detail.
func (s *UserService) toolError(tool string, err error) error {
	switch {
	case errors.Is(err, userstore.ErrConflict):
		return errors.New(MsgEmailExists)
	case errors.Is(err, userstore.ErrNotFound), errors.Is(err, userstore.ErrInvalid):
		return err
	default:
		s.logger.Error("tool failed", "tool", tool, "err", err)
		return errors.New(MsgStorageFailed)
	}
}
