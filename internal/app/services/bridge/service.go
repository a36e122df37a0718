// Package bridge authorizes and executes the RPC envelopes app
// sandboxes emit. Every privileged operation the platform exposes to
// app code passes through Invoke, so capability policy lives in
// exactly one place.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tessera-social/app_platform/internal/app/domain/appdata"
	"github.com/tessera-social/app_platform/internal/app/services/usage"
	"github.com/tessera-social/app_platform/internal/app/storage"
	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/platform/sandbox"
	"github.com/tessera-social/app_platform/pkg/logger"
)

// Config is the bridge's node-level policy.
type Config struct {
	// Development must be independently confirmed from the node
	// configuration. It gates stack traces and the workspace override.
	Development bool
	// OutboundEnabled gates the outbound kind entirely.
	OutboundEnabled bool
	// OutboundPerMinute is the fixed per-user minute budget. Zero
	// blocks outbound even when the kind is enabled.
	OutboundPerMinute int64
	// ExternalNetwork reports whether this node may reach remote
	// providers at all.
	ExternalNetwork bool
}

// AIProvider is the model backend for the ai kind.
type AIProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Moderate(ctx context.Context, text string) (bool, error)
}

// Service implements sandbox.Invoker.
type Service struct {
	documents storage.DocumentStore
	blobs     storage.BlobStore
	usage     *usage.Service
	services  *ServiceTable
	ai        AIProvider
	fetcher   Fetcher
	cfg       Config
	log       *logger.Logger
}

// New constructs the bridge. services, ai and fetcher may be nil when
// the node does not offer those kinds.
func New(documents storage.DocumentStore, blobs storage.BlobStore, usageSvc *usage.Service, services *ServiceTable, ai AIProvider, fetcher Fetcher, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("bridge")
	}
	return &Service{
		documents: documents,
		blobs:     blobs,
		usage:     usageSvc,
		services:  services,
		ai:        ai,
		fetcher:   fetcher,
		cfg:       cfg,
		log:       log,
	}
}

var _ sandbox.Invoker = (*Service)(nil)

// deniedMembers are method or path segments that could reach prototype
// machinery instead of data.
var deniedMembers = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// Invoke authorizes and executes one envelope. All failures come back
// as structured responses; the sandbox surfaces them as thrown errors.
func (s *Service) Invoke(ctx context.Context, req sandbox.Request) sandbox.Response {
	result, err := s.dispatch(ctx, req)
	if err != nil {
		return s.errorResponse(req, err)
	}
	return sandbox.Response{OK: true, Result: result}
}

func (s *Service) dispatch(ctx context.Context, req sandbox.Request) (interface{}, error) {
	if deniedMembers[req.Method] {
		return nil, platformerrors.Forbidden(fmt.Sprintf("method %q is not callable", req.Method))
	}
	for _, segment := range req.Path {
		if deniedMembers[segment] {
			return nil, platformerrors.Forbidden(fmt.Sprintf("path segment %q is not callable", segment))
		}
	}

	// The workspace override scopes data access to a draft workspace.
	// Production traffic always runs against the active revision scope.
	if req.WorkspaceID != "" && !s.cfg.Development {
		return nil, platformerrors.Forbidden("workspace override is only honored in development mode")
	}

	switch req.Kind {
	case "db":
		return s.db(ctx, req)
	case "storage":
		return s.blobStorage(ctx, req)
	case "services":
		return s.serviceCall(ctx, req)
	case "ai":
		return s.aiCall(ctx, req)
	case "outbound":
		return s.outbound(ctx, req)
	default:
		return nil, platformerrors.Forbidden(fmt.Sprintf("unknown rpc kind %q", req.Kind))
	}
}

// errorResponse shapes a failure envelope. Stack traces leave the node
// only in confirmed development mode.
func (s *Service) errorResponse(req sandbox.Request, err error) sandbox.Response {
	body := &sandbox.ErrorBody{Message: "internal error", Status: platformerrors.HTTPStatus(err)}
	if se := platformerrors.GetServiceError(err); se != nil {
		body.Message = se.Message
		if s.cfg.Development {
			if stack, ok := se.Details["stack"].(string); ok {
				body.Stack = stack
			}
		}
	}
	s.log.WithFields(map[string]interface{}{
		"kind":   req.Kind,
		"method": req.Method,
		"status": body.Status,
	}).Debug("bridge call rejected")
	return sandbox.Response{OK: false, Error: body}
}

func requireAppPrefix(what, name string) error {
	if !strings.HasPrefix(name, "app:") {
		return platformerrors.Validation(fmt.Sprintf("%s %q is outside the app namespace", what, name))
	}
	return nil
}

func decodeArg(args []json.RawMessage, index int, into interface{}) error {
	if index >= len(args) {
		return platformerrors.Validation(fmt.Sprintf("argument %d missing", index))
	}
	if err := json.Unmarshal(args[index], into); err != nil {
		return platformerrors.Validation(fmt.Sprintf("argument %d: %v", index, err))
	}
	return nil
}

func (s *Service) db(ctx context.Context, req sandbox.Request) (interface{}, error) {
	if s.documents == nil {
		return nil, platformerrors.Unavailable("document store not configured")
	}
	if err := requireAppPrefix("collection", req.Collection); err != nil {
		return nil, err
	}

	switch req.Method {
	case "get":
		var id string
		if err := decodeArg(req.Args, 0, &id); err != nil {
			return nil, err
		}
		doc, err := s.documents.GetDocument(ctx, req.Collection, req.WorkspaceID, id)
		if err != nil {
			if err == storage.ErrNotFound {
				return nil, nil
			}
			return nil, platformerrors.Internal("get document", err)
		}
		return documentResult(doc), nil

	case "put":
		var payload struct {
			ID   string          `json:"id"`
			Data json.RawMessage `json:"data"`
		}
		if err := decodeArg(req.Args, 0, &payload); err != nil {
			return nil, err
		}
		if payload.Data == nil {
			// Bare documents without an id/data wrapper are stored whole.
			payload.Data = req.Args[0]
		}
		doc, err := s.documents.PutDocument(ctx, appdata.Document{
			Collection:  req.Collection,
			ID:          payload.ID,
			WorkspaceID: req.WorkspaceID,
			Data:        payload.Data,
		})
		if err != nil {
			return nil, platformerrors.Internal("put document", err)
		}
		return documentResult(doc), nil

	case "list":
		limit := 100
		if len(req.Args) > 0 {
			var opts struct {
				Limit int `json:"limit"`
			}
			if err := decodeArg(req.Args, 0, &opts); err != nil {
				return nil, err
			}
			if opts.Limit > 0 {
				limit = opts.Limit
			}
		}
		docs, err := s.documents.ListDocuments(ctx, req.Collection, req.WorkspaceID, limit)
		if err != nil {
			return nil, platformerrors.Internal("list documents", err)
		}
		out := make([]interface{}, 0, len(docs))
		for _, doc := range docs {
			out = append(out, documentResult(doc))
		}
		return out, nil

	case "delete":
		var id string
		if err := decodeArg(req.Args, 0, &id); err != nil {
			return nil, err
		}
		if err := s.documents.DeleteDocument(ctx, req.Collection, req.WorkspaceID, id); err != nil && err != storage.ErrNotFound {
			return nil, platformerrors.Internal("delete document", err)
		}
		return map[string]interface{}{"deleted": true}, nil

	default:
		return nil, platformerrors.Forbidden(fmt.Sprintf("db method %q is not callable", req.Method))
	}
}

func documentResult(doc appdata.Document) map[string]interface{} {
	var data interface{}
	_ = json.Unmarshal(doc.Data, &data)
	return map[string]interface{}{
		"id":        doc.ID,
		"data":      data,
		"createdAt": doc.CreatedAt,
		"updatedAt": doc.UpdatedAt,
	}
}

func (s *Service) blobStorage(ctx context.Context, req sandbox.Request) (interface{}, error) {
	if s.blobs == nil {
		return nil, platformerrors.Unavailable("blob store not configured")
	}
	if err := requireAppPrefix("bucket", req.Bucket); err != nil {
		return nil, err
	}

	switch req.Method {
	case "get":
		var key string
		if err := decodeArg(req.Args, 0, &key); err != nil {
			return nil, err
		}
		obj, err := s.blobs.GetObject(ctx, req.Bucket, req.WorkspaceID, key)
		if err != nil {
			if err == storage.ErrNotFound {
				return nil, nil
			}
			return nil, platformerrors.Internal("get object", err)
		}
		return objectResult(obj, true), nil

	case "put":
		var key, data string
		if err := decodeArg(req.Args, 0, &key); err != nil {
			return nil, err
		}
		if err := decodeArg(req.Args, 1, &data); err != nil {
			return nil, err
		}
		obj := appdata.Object{
			Bucket:      req.Bucket,
			Key:         key,
			WorkspaceID: req.WorkspaceID,
			Data:        []byte(data),
		}
		if len(req.Args) > 2 {
			if err := decodeArg(req.Args, 2, &obj.ContentType); err != nil {
				return nil, err
			}
		}
		stored, err := s.blobs.PutObject(ctx, obj)
		if err != nil {
			return nil, platformerrors.Internal("put object", err)
		}
		return objectResult(stored, false), nil

	case "list":
		limit := 100
		if len(req.Args) > 0 {
			var opts struct {
				Limit int `json:"limit"`
			}
			if err := decodeArg(req.Args, 0, &opts); err != nil {
				return nil, err
			}
			if opts.Limit > 0 {
				limit = opts.Limit
			}
		}
		objs, err := s.blobs.ListObjects(ctx, req.Bucket, req.WorkspaceID, limit)
		if err != nil {
			return nil, platformerrors.Internal("list objects", err)
		}
		out := make([]interface{}, 0, len(objs))
		for _, obj := range objs {
			out = append(out, objectResult(obj, false))
		}
		return out, nil

	case "delete":
		var key string
		if err := decodeArg(req.Args, 0, &key); err != nil {
			return nil, err
		}
		if err := s.blobs.DeleteObject(ctx, req.Bucket, req.WorkspaceID, key); err != nil && err != storage.ErrNotFound {
			return nil, platformerrors.Internal("delete object", err)
		}
		return map[string]interface{}{"deleted": true}, nil

	default:
		return nil, platformerrors.Forbidden(fmt.Sprintf("storage method %q is not callable", req.Method))
	}
}

func objectResult(obj appdata.Object, includeData bool) map[string]interface{} {
	out := map[string]interface{}{
		"key":         obj.Key,
		"contentType": obj.ContentType,
		"size":        len(obj.Data),
		"updatedAt":   obj.UpdatedAt,
	}
	if includeData {
		out["data"] = string(obj.Data)
	}
	return out
}

// serviceCall resolves a 1- or 2-segment path against the explicit
// allow-table. Anything outside the table is a policy violation, not a
// missing resource, so the answer is always forbidden rather than
// not-found.
func (s *Service) serviceCall(ctx context.Context, req sandbox.Request) (interface{}, error) {
	if s.services == nil {
		return nil, platformerrors.Forbidden("core services are not exposed to apps on this node")
	}
	if len(req.Path) == 0 || len(req.Path) > 2 {
		return nil, platformerrors.Forbidden("service path must have one or two segments")
	}
	namespace := req.Path[0]
	method := ""
	if len(req.Path) == 2 {
		method = req.Path[1]
	}
	handler, ok := s.services.Lookup(namespace, method)
	if !ok {
		return nil, platformerrors.Forbidden(
			fmt.Sprintf("service %s is not exposed to apps", strings.Join(req.Path, ".")))
	}
	return handler(ctx, req.Auth, req.Args)
}

// aiCall requires an authenticated end user and a reachable provider.
func (s *Service) aiCall(ctx context.Context, req sandbox.Request) (interface{}, error) {
	if req.Auth == nil || !req.Auth.IsAuthenticated {
		return nil, platformerrors.Forbidden("ai operations require an authenticated user")
	}
	if s.ai == nil || !s.cfg.ExternalNetwork {
		return nil, platformerrors.Unavailable("ai provider is not available on this node")
	}

	switch req.Method {
	case "generate":
		var prompt string
		if err := decodeArg(req.Args, 0, &prompt); err != nil {
			return nil, err
		}
		text, err := s.ai.Generate(ctx, prompt)
		if err != nil {
			return nil, platformerrors.Internal("ai generate", err)
		}
		return map[string]interface{}{"text": text}, nil

	case "moderate":
		var text string
		if err := decodeArg(req.Args, 0, &text); err != nil {
			return nil, err
		}
		flagged, err := s.ai.Moderate(ctx, text)
		if err != nil {
			return nil, platformerrors.Internal("ai moderate", err)
		}
		return map[string]interface{}{"flagged": flagged}, nil

	default:
		return nil, platformerrors.Forbidden(fmt.Sprintf("ai method %q is not callable", req.Method))
	}
}
