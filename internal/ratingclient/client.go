// Package ratingclient talks to the ratings HTTP API and keeps the
// client-side rating cache that course cards, course pages and the
// instructor table read from.
package ratingclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ratings api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Rating is the wire form of a rating.
type Rating struct {
	UserID          string    `json:"userId"`
	CourseID        string    `json:"courseId"`
	Rating          int       `json:"rating"`
	Review          *string   `json:"review"`
	UserDisplayName string    `json:"userDisplayName,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Stats is the wire form of a course rating summary.
type Stats struct {
	AverageRating float64          `json:"averageRating"`
	RatingCount   int64            `json:"ratingCount"`
	Distribution  map[string]int64 `json:"distribution"`
}

// Page is one page of a course rating listing.
type Page struct {
	Ratings          []Rating `json:"ratings"`
	LastEvaluatedKey *string  `json:"lastEvaluatedKey,omitempty"`
	HasMore          bool     `json:"hasMore"`
}

// API is the subset of the ratings API the cache drives.
type API interface {
	Submit(ctx context.Context, courseID string, stars int, review *string) (Rating, error)
	Delete(ctx context.Context, courseID string) error
	Mine(ctx context.Context, courseID string) (*Rating, error)
	List(ctx context.Context, courseID string, limit int, lastKey string) (Page, error)
	Stats(ctx context.Context, courseID string) (Stats, error)
}

// HTTPClient implements API over HTTP.
type HTTPClient struct {
	baseURL *url.URL
	client  *http.Client
	logger  *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPClient constructs a client for the ratings API at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ratings api url: %w", err)
	}
	return &HTTPClient{
		baseURL: parsed,
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

// SetToken sets the bearer token sent with every request. An empty token
// logs the client out.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Submit creates or replaces the caller's rating.
func (c *HTTPClient) Submit(ctx context.Context, courseID string, stars int, review *string) (Rating, error) {
	body := struct {
		Rating int     `json:"rating"`
		Review *string `json:"review,omitempty"`
	}{Rating: stars, Review: review}
	var out Rating
	err := c.do(ctx, http.MethodPost, coursePath(courseID, ""), nil, body, &out)
	return out, err
}

// Delete removes the caller's rating.
func (c *HTTPClient) Delete(ctx context.Context, courseID string) error {
	return c.do(ctx, http.MethodDelete, coursePath(courseID, ""), nil, nil, nil)
}

// Mine returns the caller's rating, or nil when there is none.
func (c *HTTPClient) Mine(ctx context.Context, courseID string) (*Rating, error) {
	var out Rating
	err := c.do(ctx, http.MethodGet, coursePath(courseID, "/me"), nil, nil, &out)
	if IsCode(err, "RATING_NOT_FOUND") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// List fetches one page of a course's ratings.
func (c *HTTPClient) List(ctx context.Context, courseID string, limit int, lastKey string) (Page, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if lastKey != "" {
		q.Set("lastKey", lastKey)
	}
	var out Page
	err := c.do(ctx, http.MethodGet, coursePath(courseID, ""), q, nil, &out)
	return out, err
}

// Stats fetches a course's rating summary.
func (c *HTTPClient) Stats(ctx context.Context, courseID string) (Stats, error) {
	var out Stats
	err := c.do(ctx, http.MethodGet, coursePath(courseID, "/stats"), nil, nil, &out)
	return out, err
}

func coursePath(courseID, suffix string) string {
	return "/api/courses/" + url.PathEscape(courseID) + "/ratings" + suffix
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	// path is already escaped by coursePath.
	endpoint := c.baseURL.String() + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
		return nil
	}

	var envelope struct {
		Error   string          `json:"error"`
		Code    string          `json:"code"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&envelope); err != nil {
		c.logger.Warn("ratingclient: undecodable error response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
	}
	return &APIError{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Error, Details: envelope.Details}
}
