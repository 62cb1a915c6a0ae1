package mcptools

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// version is set by the linker at build time.
var version = "dev"

// NewUserMCPServer creates an MCP server with the five user tools registered.
func NewUserMCPServer(svc *UserService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "roster",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_users",
		Description: "List every registered user in creation order.",
	}, svc.ListUsers)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_user",
		Description: "Fetch one user by numeric id, or by exact email address when no id is given.",
	}, svc.GetUser)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_user",
		Description: "Register a new user. Fails with \"Email already exists!\" when the email belongs to another user.",
	}, svc.CreateUser)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_user",
		Description: "Replace the name and email of an existing user.",
	}, svc.UpdateUser)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_user",
		Description: "Delete a user by id. Deleting an id that does not exist succeeds.",
	}, svc.DeleteUser)

	return server
}

// RunMCPServer serves the MCP server over streamable HTTP on addr until ctx
// is cancelled.
func RunMCPServer(ctx context.Context, server *mcp.Server, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunMCPServerStdio runs the MCP server on stdio transport, blocking until
// stdin is closed or the context is cancelled.
func RunMCPServerStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}
