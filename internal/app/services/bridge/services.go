package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/platform/sandbox"
)

// ServiceHandler executes one allow-listed core-service operation on
// behalf of an app.
type ServiceHandler func(ctx context.Context, auth *sandbox.Auth, args []json.RawMessage) (interface{}, error)

// ServiceTable is the explicit allow-table for the services RPC kind.
// Only (namespace, method) pairs registered here are callable; there
// is no reflective fallback to discover anything else.
type ServiceTable struct {
	entries map[string]ServiceHandler
}

// NewServiceTable returns an empty table.
func NewServiceTable() *ServiceTable {
	return &ServiceTable{entries: make(map[string]ServiceHandler)}
}

// Register binds a handler. An empty method registers the namespace's
// single-segment form.
func (t *ServiceTable) Register(namespace, method string, handler ServiceHandler) {
	t.entries[namespace+"."+method] = handler
}

// Lookup resolves a call target.
func (t *ServiceTable) Lookup(namespace, method string) (ServiceHandler, bool) {
	handler, ok := t.entries[namespace+"."+method]
	return handler, ok
}

// Core-service collaborators. The bridge only fronts them; the social
// domain owns the behavior.
type (
	// PostService creates and reads posts.
	PostService interface {
		Create(ctx context.Context, userID string, content json.RawMessage) (interface{}, error)
		Get(ctx context.Context, id string) (interface{}, error)
	}

	// DMService sends direct messages.
	DMService interface {
		Send(ctx context.Context, fromUserID, toUserID string, body json.RawMessage) (interface{}, error)
	}

	// CommunityService manages community membership.
	CommunityService interface {
		Join(ctx context.Context, userID, communityID string) (interface{}, error)
		Leave(ctx context.Context, userID, communityID string) (interface{}, error)
	}

	// UserService resolves user profiles.
	UserService interface {
		Lookup(ctx context.Context, handle string) (interface{}, error)
	}
)

// CoreServices bundles the collaborators a node exposes. Nil fields
// simply leave their entries out of the table.
type CoreServices struct {
	Posts       PostService
	DM          DMService
	Communities CommunityService
	Users       UserService
}

func requireUser(auth *sandbox.Auth) (string, error) {
	if auth == nil || !auth.IsAuthenticated {
		return "", platformerrors.Forbidden("operation requires an authenticated user")
	}
	return auth.UserID, nil
}

func stringArg(args []json.RawMessage, index int, name string) (string, error) {
	var value string
	if index >= len(args) {
		return "", platformerrors.Validation(fmt.Sprintf("%s required", name))
	}
	if err := json.Unmarshal(args[index], &value); err != nil {
		return "", platformerrors.Validation(fmt.Sprintf("%s: %v", name, err))
	}
	return value, nil
}

// NewCoreTable builds the allow-table for the configured collaborators.
func NewCoreTable(core CoreServices) *ServiceTable {
	table := NewServiceTable()

	if core.Posts != nil {
		table.Register("posts", "create", func(ctx context.Context, auth *sandbox.Auth, args []json.RawMessage) (interface{}, error) {
			userID, err := requireUser(auth)
			if err != nil {
				return nil, err
			}
			if len(args) == 0 {
				return nil, platformerrors.Validation("post content required")
			}
			return core.Posts.Create(ctx, userID, args[0])
		})
		table.Register("posts", "get", func(ctx context.Context, _ *sandbox.Auth, args []json.RawMessage) (interface{}, error) {
			id, err := stringArg(args, 0, "post id")
			if err != nil {
				return nil, err
			}
			return core.Posts.Get(ctx, id)
		})
	}

	if core.DM != nil {
		table.Register("dm", "send", func(ctx context.Context, auth *sandbox.Auth, args []json.RawMessage) (interface{}, error) {
			userID, err := requireUser(auth)
			if err != nil {
				return nil, err
			}
			to, err := stringArg(args, 0, "recipient")
			if err != nil {
				return nil, err
			}
			var body json.RawMessage
			if len(args) > 1 {
				body = args[1]
			}
			return core.DM.Send(ctx, userID, to, body)
		})
	}

	if core.Communities != nil {
		membership := func(op func(context.Context, string, string) (interface{}, error)) ServiceHandler {
			return func(ctx context.Context, auth *sandbox.Auth, args []json.RawMessage) (interface{}, error) {
				userID, err := requireUser(auth)
				if err != nil {
					return nil, err
				}
				communityID, err := stringArg(args, 0, "community id")
				if err != nil {
					return nil, err
				}
				return op(ctx, userID, communityID)
			}
		}
		table.Register("communities", "join", membership(core.Communities.Join))
		table.Register("communities", "leave", membership(core.Communities.Leave))
	}

	if core.Users != nil {
		table.Register("users", "lookup", func(ctx context.Context, _ *sandbox.Auth, args []json.RawMessage) (interface{}, error) {
			handle, err := stringArg(args, 0, "handle")
			if err != nil {
				return nil, err
			}
			return core.Users.Lookup(ctx, handle)
		})
	}

	return table
}
