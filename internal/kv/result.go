// Package kv provides a key-value store over a single SQLite table with
// lazy per-key expiry and one-time (read-once) keys.
package kv

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotInitialized is returned by every operation before Init or after Close.
var ErrNotInitialized = errors.New("kv store not initialized")

// Status tells the caller which shape a lookup result has.
type Status int

const (
	StatusFound Status = iota
	StatusNotFound
	StatusExpired
	StatusInvalidExpiry
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusNotFound:
		return "not_found"
	case StatusExpired:
		return "expired"
	case StatusInvalidExpiry:
		return "invalid_expiry"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of Get.
type Result struct {
	Status Status
	Value  any // decoded JSON value, only meaningful when Status is StatusFound

	raw json.RawMessage
}

// Found reports whether the key was present and readable.
func (r Result) Found() bool {
	return r.Status == StatusFound
}

// Raw returns the stored JSON text.
func (r Result) Raw() json.RawMessage {
	return r.raw
}

// Decode unmarshals the stored JSON into dst.
func (r Result) Decode(dst any) error {
	if r.Status != StatusFound {
		return fmt.Errorf("cannot decode %s result", r.Status)
	}
	return json.Unmarshal(r.raw, dst)
}

// TTLResult is the outcome of TTL.
type TTLResult struct {
	Status    Status
	Remaining time.Duration // never negative
}

// Millis returns the remaining time in milliseconds.
func (t TTLResult) Millis() int64 {
	return t.Remaining.Milliseconds()
}

// Info is a diagnostic snapshot of the store.
type Info struct {
	JournalMode string `json:"journal_mode"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	Table       string `json:"table"`
	FileSize    int64  `json:"file_size"`
	KeyCount    int    `json:"key_count"`
	WALExists   bool   `json:"wal_exists"`
}
