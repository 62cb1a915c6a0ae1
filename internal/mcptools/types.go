package mcptools

import "github.com/dusk-indust/roster/internal/userstore"

// --- MCP Tool Input Types ---
// The MCP Go SDK derives each tool's JSON schema from these struct tags.

// ListUsersInput is the input for the list_users MCP tool.
type ListUsersInput struct{}

// ListUsersOutput is the result of the list_users MCP tool.
type ListUsersOutput struct {
	Users []userstore.User `json:"users"`
	Total int              `json:"total"`
}

// GetUserInput is the input for the get_user MCP tool.
type GetUserInput struct {
	ID    int64  `json:"id,omitempty" jsonschema:"identifier of the user to fetch"`
	Email string `json:"email,omitempty" jsonschema:"exact email address to look up, used when id is not set"`
}

// UserOutput carries a single user and a human-readable outcome.
type UserOutput struct {
	User    userstore.User `json:"user"`
	Message string         `json:"message,omitempty"`
}

// CreateUserInput is the input for the create_user MCP tool.
type CreateUserInput struct {
	Name  string `json:"name" jsonschema:"display name of the new user"`
	Email string `json:"email" jsonschema:"email address, must not belong to another user"`
}

// UpdateUserInput is the input for the update_user MCP tool.
type UpdateUserInput struct {
	ID    int64  `json:"id" jsonschema:"identifier of the user to replace"`
	Name  string `json:"name" jsonschema:"new display name"`
	Email string `json:"email" jsonschema:"new email address"`
}

// DeleteUserInput is the input for the delete_user MCP tool.
type DeleteUserInput struct {
	ID int64 `json:"id" jsonschema:"identifier of the user to delete; unknown ids are not an error"`
}

// DeleteUserOutput is the result of the delete_user MCP tool.
type DeleteUserOutput struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}
