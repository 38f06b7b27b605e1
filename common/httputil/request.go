package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// MaxBodyBytes bounds request bodies read by DecodeJSON.
const MaxBodyBytes = 1 << 20

// DecodeJSON reads a single JSON value from the request body into v.
// Unknown fields are rejected.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

// GetClientIP extracts the client address, preferring proxy headers:
// the first X-Forwarded-For entry, then X-Real-IP, then RemoteAddr.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// ParseIntParam parses an integer query parameter, returning defaultVal when s is empty.
func ParseIntParam(s string, defaultVal int) (int, error) {
	if s == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return v, nil
}

// CursorPage carries keyset pagination parameters: ?limit=N&startAfter=<id>.
type CursorPage struct {
	Limit      int
	StartAfter string
}

// ParseCursorPage reads limit and startAfter from the query string. The limit is not
// range-checked here; services validate it against their own bounds.
func ParseCursorPage(r *http.Request, defaultLimit int) (CursorPage, error) {
	q := r.URL.Query()
	limit, err := ParseIntParam(q.Get("limit"), defaultLimit)
	if err != nil {
		return CursorPage{}, fmt.Errorf("limit: %w", err)
	}
	return CursorPage{Limit: limit, StartAfter: q.Get("startAfter")}, nil
}
