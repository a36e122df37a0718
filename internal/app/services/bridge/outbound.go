package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/platform/sandbox"
)

// deliveryCountHeader carries the number of federation delivery
// attempts an outbound request represents. It is metered and stripped
// before the request leaves the node.
const deliveryCountHeader = "x-delivery-count"

const maxOutboundBody = 1 << 20

// Fetcher performs the actual outbound HTTP call. http.Client
// satisfies it via HTTPFetcher; tests substitute their own.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPFetcher returns the production fetcher.
func NewHTTPFetcher(timeout time.Duration) Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// outbound executes a federation-delivery fetch. The kind exists for
// background delivery jobs: it is feature-flagged, blocked for
// authenticated end users even when enabled, and rate-limited per user
// on fixed UTC minute buckets.
func (s *Service) outbound(ctx context.Context, req sandbox.Request) (interface{}, error) {
	if !s.cfg.OutboundEnabled {
		return nil, platformerrors.Forbidden("outbound requests are disabled")
	}
	if req.Auth != nil && req.Auth.IsAuthenticated {
		return nil, platformerrors.Forbidden("outbound requests are not permitted for authenticated users")
	}
	if !s.cfg.ExternalNetwork {
		return nil, platformerrors.Unavailable("external network access is disabled on this node")
	}
	if s.fetcher == nil {
		return nil, platformerrors.Unavailable("outbound fetcher not configured")
	}
	if req.URL == "" || (!strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://")) {
		return nil, platformerrors.Validation(fmt.Sprintf("outbound url %q is not absolute http(s)", req.URL))
	}

	userKey := req.UserID
	if userKey == "" {
		userKey = "anonymous"
	}
	if s.usage != nil {
		if err := s.usage.AllowOutbound(ctx, userKey, s.cfg.OutboundPerMinute); err != nil {
			return nil, err
		}
	}

	method := http.MethodGet
	headers := map[string]string{}
	var body io.Reader
	if req.Init != nil {
		if m, ok := req.Init["method"].(string); ok && m != "" {
			method = strings.ToUpper(m)
		}
		if raw, ok := req.Init["headers"].(map[string]interface{}); ok {
			for name, value := range raw {
				text, ok := value.(string)
				if !ok {
					return nil, platformerrors.Validation(fmt.Sprintf("header %q must be a string", name))
				}
				headers[name] = text
			}
		}
		if b, ok := req.Init["body"].(string); ok && b != "" {
			body = strings.NewReader(b)
		}
	}

	// Delivery metering happens before the call executes so a failing
	// request still counts, then the header never leaves the node.
	for name, value := range headers {
		if strings.EqualFold(name, deliveryCountHeader) {
			count, err := strconv.ParseInt(value, 10, 64)
			if err != nil || count < 0 {
				return nil, platformerrors.Validation("delivery count header must be a non-negative integer")
			}
			if s.usage != nil {
				if err := s.usage.RecordDeliveries(ctx, userKey, count); err != nil {
					return nil, err
				}
			}
			delete(headers, name)
			break
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, platformerrors.Validation(fmt.Sprintf("outbound request: %v", err))
	}
	for name, value := range headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := s.fetcher.Do(httpReq)
	if err != nil {
		return nil, platformerrors.Internal("outbound request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxOutboundBody))
	if err != nil {
		return nil, platformerrors.Internal("read outbound response", err)
	}

	respHeaders := map[string]string{}
	for name := range resp.Header {
		respHeaders[strings.ToLower(name)] = resp.Header.Get(name)
	}

	return map[string]interface{}{
		"status":  resp.StatusCode,
		"headers": respHeaders,
		"body":    string(data),
	}, nil
}
