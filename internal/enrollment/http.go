package enrollment

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPClient queries the enrollment service over HTTP.
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient constructs an HTTP-backed oracle.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse enrollment url: %w", err)
	}
	return &HTTPClient{
		baseURL: parsed,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		logger: logger,
	}, nil
}

// IsEnrolled calls GET /enrollments?userId=&courseId=. A 404 means not
// enrolled; any other non-200 status is ErrUnavailable.
func (c *HTTPClient) IsEnrolled(ctx context.Context, userID, courseID string) (bool, error) {
	rel := &url.URL{Path: c.baseURL.Path + "/enrollments"}
	q := rel.Query()
	q.Set("userId", userID)
	q.Set("courseId", courseID)
	rel.RawQuery = q.Encode()
	endpoint := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return false, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload apiResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return false, fmt.Errorf("decode enrollment response: %w", err)
		}
		return payload.enrolled(), nil
	case http.StatusNotFound:
		return false, nil
	default:
		c.logger.Warn("enrollment: unexpected status",
			zap.Int("status", resp.StatusCode),
			zap.String("user_id", userID),
			zap.String("course_id", courseID),
		)
		return false, fmt.Errorf("%w: upstream returned %d", ErrUnavailable, resp.StatusCode)
	}
}

type apiResponse struct {
	Enrolled *bool  `json:"enrolled"`
	Status   string `json:"status"`
}

// enrolled accepts either {"enrolled": true} or a status of "active".
func (p apiResponse) enrolled() bool {
	if p.Enrolled != nil {
		return *p.Enrolled
	}
	return strings.EqualFold(p.Status, "active")
}
