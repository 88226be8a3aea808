package session

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

var sessionIDPattern = regexp.MustCompile(`^session-\d+-[0-9a-f]{8}$`)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// failingStore returns err from every call.
type failingStore struct {
	err error
}

func (f failingStore) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f failingStore) Set(context.Context, string, string) error         { return f.err }
func (f failingStore) LogCost(context.Context, *CostEntry) error         { return f.err }
func (f failingStore) SessionCost(context.Context, string) (*CostSummary, error) {
	return nil, f.err
}
func (f failingStore) TotalCost(context.Context) (*CostSummary, error) { return nil, f.err }
func (f failingStore) Close() error                                     { return nil }

func TestNewSessionID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewSessionID(now)

	if !sessionIDPattern.MatchString(id) {
		t.Errorf("NewSessionID() = %q, does not match %s", id, sessionIDPattern)
	}
	if want := "session-1700000000123-"; id[:len(want)] != want {
		t.Errorf("NewSessionID() = %q, want prefix %q", id, want)
	}
}

func TestManager_GetOrCreateSessionID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, quietLogger())

	first := m.GetOrCreateSessionID(ctx)
	if !sessionIDPattern.MatchString(first) {
		t.Fatalf("GetOrCreateSessionID() = %q", first)
	}

	if second := m.GetOrCreateSessionID(ctx); second != first {
		t.Errorf("second call = %q, want %q", second, first)
	}

	stored, ok, _ := store.Get(ctx, SessionIDKey)
	if !ok || stored != first {
		t.Errorf("stored id = %q (%v), want %q", stored, ok, first)
	}

	// A fresh manager over the same store sees the persisted id.
	other := NewManager(store, quietLogger())
	if got := other.GetOrCreateSessionID(ctx); got != first {
		t.Errorf("new manager id = %q, want %q", got, first)
	}
}

func TestManager_GetOrCreateSessionID_ExistingValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Set(ctx, SessionIDKey, "session-1-abcdef01")

	m := NewManager(store, quietLogger())
	if got := m.GetOrCreateSessionID(ctx); got != "session-1-abcdef01" {
		t.Errorf("GetOrCreateSessionID() = %q, want stored value", got)
	}
}

func TestManager_StoreFailureFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	m := NewManager(failingStore{err: errors.New("disk full")}, quietLogger())

	id := m.GetOrCreateSessionID(ctx)
	if !sessionIDPattern.MatchString(id) {
		t.Fatalf("GetOrCreateSessionID() = %q", id)
	}
	if again := m.GetOrCreateSessionID(ctx); again != id {
		t.Errorf("in-memory id changed: %q then %q", id, again)
	}

	// Ledger failures are swallowed.
	m.LogCost(ctx, &CostEntry{SessionID: id, Cost: 1})
}

// unreadableStore fails reads but accepts writes.
type unreadableStore struct {
	*MemoryStore
}

func (unreadableStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("connection reset")
}

func TestManager_ReadFailureKeepsStoredID(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	if err := mem.Set(ctx, SessionIDKey, "session-original"); err != nil {
		t.Fatal(err)
	}

	m := NewManager(unreadableStore{mem}, quietLogger())
	id := m.GetOrCreateSessionID(ctx)
	if id == "session-original" || !sessionIDPattern.MatchString(id) {
		t.Fatalf("GetOrCreateSessionID() = %q, want a fresh in-memory id", id)
	}

	stored, ok, err := mem.Get(ctx, SessionIDKey)
	if err != nil || !ok {
		t.Fatalf("stored id lookup = %q, %v, %v", stored, ok, err)
	}
	if stored != "session-original" {
		t.Errorf("stored id = %q, a read failure must not overwrite it", stored)
	}

	fresh := NewManager(mem, quietLogger())
	if got := fresh.GetOrCreateSessionID(ctx); got != "session-original" {
		t.Errorf("next process id = %q, want session-original", got)
	}
}

func TestManager_Reset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store, quietLogger())

	before := m.GetOrCreateSessionID(ctx)
	after := m.Reset(ctx)
	if after == before {
		t.Error("Reset() returned the same id")
	}
	if got := m.GetOrCreateSessionID(ctx); got != after {
		t.Errorf("GetOrCreateSessionID() after Reset = %q, want %q", got, after)
	}
	if stored, _, _ := store.Get(ctx, SessionIDKey); stored != after {
		t.Errorf("stored id = %q, want %q", stored, after)
	}
}

func TestManager_Costs(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewMemoryStore(), quietLogger())
	id := m.GetOrCreateSessionID(ctx)

	m.LogCost(ctx, &CostEntry{SessionID: id, Path: "t2i", Model: "nano-banana", Cost: 0.156, ImageCount: 4})
	m.LogCost(ctx, &CostEntry{SessionID: "other", Path: "t2v", Model: "kling", Cost: 0.35})

	sess, err := m.SessionCost(ctx)
	if err != nil {
		t.Fatalf("SessionCost() error = %v", err)
	}
	if sess.EntryCount != 1 || sess.TotalCost != 0.156 {
		t.Errorf("SessionCost() = %+v", sess)
	}

	total, err := m.TotalCost(ctx)
	if err != nil {
		t.Fatalf("TotalCost() error = %v", err)
	}
	if total.EntryCount != 2 {
		t.Errorf("TotalCost().EntryCount = %d, want 2", total.EntryCount)
	}
}

func TestManager_NilStore(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, quietLogger())

	if id := m.GetOrCreateSessionID(ctx); !sessionIDPattern.MatchString(id) {
		t.Errorf("GetOrCreateSessionID() = %q", id)
	}
	m.LogCost(ctx, &CostEntry{Cost: 1})
	if s, err := m.SessionCost(ctx); err != nil || s.EntryCount != 0 {
		t.Errorf("SessionCost() = %+v, %v", s, err)
	}
}
