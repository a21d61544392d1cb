package cache

import (
	"net/http"
	"time"
)

// Entry is one cached response.
type Entry struct {
	Body       []byte
	Header     http.Header
	StatusCode int
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ValidAt reports whether the entry may be served at the given instant.
// An entry is valid strictly before ExpiresAt.
func (e *Entry) ValidAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Age returns how long ago the entry was created.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

func (e *Entry) clone() *Entry {
	return &Entry{
		Body:       append([]byte(nil), e.Body...),
		Header:     e.Header.Clone(),
		StatusCode: e.StatusCode,
		CreatedAt:  e.CreatedAt,
		ExpiresAt:  e.ExpiresAt,
	}
}
