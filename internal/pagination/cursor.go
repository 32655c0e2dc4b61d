// Package pagination pages list endpoints by (created_at, id) keyset cursors.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultLimit is used when a request names no limit.
	DefaultLimit = 50
	// MaxLimit caps the page size a caller can ask for.
	MaxLimit = 200
)

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// ErrInvalidLimit is returned for non-numeric or non-positive limits.
var ErrInvalidLimit = errors.New("pagination: limit must be a positive integer")

// Cursor is the (created_at, id) key of the last row on the previous page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Precedes reports whether the cursor sorts strictly before the row keyed by
// (createdAt, id), i.e. whether that row belongs on a later page.
func (c *Cursor) Precedes(createdAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if !createdAt.Equal(c.CreatedAt) {
		return createdAt.After(c.CreatedAt)
	}
	return id > c.ID
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(createdAt time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// Params are the paging inputs of a list request.
type Params struct {
	After *Cursor
	Limit int
}

// ParseParams reads the raw "cursor" and "limit" query values. Limits above
// MaxLimit are clamped.
func ParseParams(cursor, limit string) (Params, error) {
	p := Params{Limit: DefaultLimit}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n <= 0 {
			return Params{}, ErrInvalidLimit
		}
		p.Limit = min(n, MaxLimit)
	}
	after, err := Decode(cursor)
	if err != nil {
		return Params{}, err
	}
	p.After = after
	return p, nil
}

// ComputePage takes a slice of items (fetched with limit+1), the requested limit,
// and a function to extract (createdAt, id) from the last item.
// Returns the trimmed items, next cursor, and has_more flag.
func ComputePage[T any](items []T, limit int, extractKey func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := extractKey(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
