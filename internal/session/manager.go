package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const sessionPrefix = "session-"

// Manager owns the persistent session identity and the cost ledger.
type Manager struct {
	store Store
	log   logrus.FieldLogger
	now   func() time.Time

	mu      sync.Mutex
	current string
}

func NewManager(store Store, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// NewSessionID builds an identifier of the form session-<unix millis>-<8 hex>.
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s%d-%s", sessionPrefix, now.UnixMilli(), suffix)
}

// GetOrCreateSessionID returns the stored identifier, creating and persisting
// one on first use. When the store cannot be read the new identifier lives
// in memory for the rest of the process and the stored one is left alone.
func (m *Manager) GetOrCreateSessionID(ctx context.Context) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != "" {
		return m.current
	}

	persist := m.store != nil
	if m.store != nil {
		id, ok, err := m.store.Get(ctx, SessionIDKey)
		switch {
		case err != nil:
			m.log.WithError(err).Warn("session store read failed, using in-memory session id")
			persist = false
		case ok && id != "":
			m.current = id
			return id
		}
	}

	id := NewSessionID(m.now())
	if persist {
		if err := m.store.Set(ctx, SessionIDKey, id); err != nil {
			m.log.WithError(err).Warn("session store write failed, session id will not persist")
		}
	}

	m.log.WithField("session_id", id).Debug("created session id")
	m.current = id
	return id
}

// Reset replaces the identifier with a fresh one. It backs the explicit
// "new session" commands; nothing else changes an id once resolved.
func (m *Manager) Reset(ctx context.Context) string {
	id := NewSessionID(m.now())

	m.mu.Lock()
	m.current = id
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Set(ctx, SessionIDKey, id); err != nil {
			m.log.WithError(err).Warn("session store write failed, session id will not persist")
		}
	}
	return id
}

// LogCost records one completed generation. Failures are logged and dropped;
// the ledger never blocks a generation.
func (m *Manager) LogCost(ctx context.Context, entry *CostEntry) {
	if m.store == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}
	if err := m.store.LogCost(ctx, entry); err != nil {
		m.log.WithError(err).Warn("failed to record cost")
	}
}

func (m *Manager) SessionCost(ctx context.Context) (*CostSummary, error) {
	if m.store == nil {
		return &CostSummary{}, nil
	}
	return m.store.SessionCost(ctx, m.GetOrCreateSessionID(ctx))
}

func (m *Manager) TotalCost(ctx context.Context) (*CostSummary, error) {
	if m.store == nil {
		return &CostSummary{}, nil
	}
	return m.store.TotalCost(ctx)
}

// Options selects and configures a store backend.
type Options struct {
	Driver    string
	Path      string
	RedisAddr string
}

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Open builds the store named by opts.Driver. An empty driver means sqlite.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		if opts.Path == "" {
			return NewSQLiteStore()
		}
		return NewSQLiteStoreWithPath(opts.Path)
	case DriverRedis:
		return DialRedis(ctx, opts.RedisAddr)
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, opts.Driver)
	}
}
