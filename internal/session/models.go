package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStoreUnavailable = errors.New("session store unavailable")
	ErrUnknownDriver    = errors.New("unknown store driver")
)

// SessionIDKey is the fixed key the session identifier is persisted under.
const SessionIDKey = "sessionId"

// Store is the local key-value store plus the cost ledger.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	LogCost(ctx context.Context, entry *CostEntry) error
	SessionCost(ctx context.Context, sessionID string) (*CostSummary, error)
	TotalCost(ctx context.Context) (*CostSummary, error)
	Close() error
}

type CostEntry struct {
	SessionID  string    `json:"session_id"`
	Path       string    `json:"path"`
	Model      string    `json:"model"`
	Cost       float64   `json:"cost"`
	ImageCount int       `json:"image_count"`
	Timestamp  time.Time `json:"timestamp"`
}

type CostSummary struct {
	TotalCost  float64 `json:"total_cost"`
	ImageCount int     `json:"image_count"`
	EntryCount int     `json:"entry_count"`
}

func FormatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}
