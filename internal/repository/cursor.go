package repository

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor resumes a listing after the item with (CreatedAt, Key). Key is the
// tie-break id: the user id for course listings, the course id for user
// listings.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	Key       string    `json:"key"`
}

// EncodeCursor renders c as an opaque, URL-safe token.
func EncodeCursor(c Cursor) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token means
// "from the start" and yields nil.
func DecodeCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if cursor.CreatedAt.IsZero() || cursor.Key == "" {
		return nil, fmt.Errorf("%w: incomplete position", ErrInvalidCursor)
	}
	return &cursor, nil
}

func nextCursor(createdAt time.Time, key string) (*string, error) {
	token, err := EncodeCursor(Cursor{CreatedAt: createdAt, Key: key})
	if err != nil {
		return nil, err
	}
	return &token, nil
}
