package tabs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry maps a transient tab handle to its durable identity.
type Entry struct {
	Handle    string    `json:"handle"`
	UUID      string    `json:"uuid"`
	CreatedAt time.Time `json:"createdAt"`
}

// Map assigns each observed tab handle a stable UUID. When a Store is
// attached, identities are written through and reloaded on startup.
type Map struct {
	mu    sync.RWMutex
	byTab map[string]Entry
	store *Store
}

// NewMap builds an identity map. store may be nil for a memory-only map.
func NewMap(store *Store) *Map {
	return &Map{
		byTab: make(map[string]Entry),
		store: store,
	}
}

// Load seeds the map from the attached store.
func (m *Map) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	entries, err := m.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, e := range entries {
		m.byTab[e.Handle] = e
	}
	m.mu.Unlock()
	slog.Debug("tabs: identities loaded", "count", len(entries))
	return nil
}

// Ensure returns the identity for handle, minting and persisting one on
// first observation. Persistence failures are logged; the in-memory
// identity is still returned.
func (m *Map) Ensure(ctx context.Context, handle string) string {
	if handle == "" {
		return ""
	}
	m.mu.RLock()
	e, ok := m.byTab[handle]
	m.mu.RUnlock()
	if ok {
		return e.UUID
	}

	m.mu.Lock()
	if e, ok = m.byTab[handle]; ok {
		m.mu.Unlock()
		return e.UUID
	}
	e = Entry{Handle: handle, UUID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	m.byTab[handle] = e
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Put(ctx, e); err != nil {
			slog.Warn("tabs: persist identity failed", "tab_id", handle, "error", err)
		}
	}
	slog.Debug("tabs: identity assigned", "tab_id", handle, "tab_uuid", e.UUID)
	return e.UUID
}

// Lookup returns the identity for handle without creating one.
func (m *Map) Lookup(handle string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byTab[handle]
	return e.UUID, ok
}

// Remove forgets handle. It reports whether a mapping existed.
func (m *Map) Remove(ctx context.Context, handle string) bool {
	m.mu.Lock()
	_, ok := m.byTab[handle]
	delete(m.byTab, handle)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if m.store != nil {
		if err := m.store.Delete(ctx, handle); err != nil {
			slog.Warn("tabs: delete identity failed", "tab_id", handle, "error", err)
		}
	}
	return true
}

// Reconcile drops identities for tabs that no longer exist and ensures an
// identity for every live handle.
func (m *Map) Reconcile(ctx context.Context, live []string) {
	alive := make(map[string]struct{}, len(live))
	for _, h := range live {
		alive[h] = struct{}{}
	}

	m.mu.RLock()
	var stale []string
	for h := range m.byTab {
		if _, ok := alive[h]; !ok {
			stale = append(stale, h)
		}
	}
	m.mu.RUnlock()

	for _, h := range stale {
		m.Remove(ctx, h)
	}
	for _, h := range live {
		m.Ensure(ctx, h)
	}
	slog.Info("tabs: reconciled", "live", len(live), "dropped", len(stale))
}

// Snapshot returns all entries sorted by handle.
func (m *Map) Snapshot() []Entry {
	m.mu.RLock()
	out := make([]Entry, 0, len(m.byTab))
	for _, e := range m.byTab {
		out = append(out, e)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (m *Map) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byTab)
}
