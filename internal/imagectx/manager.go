// Package imagectx holds the ordered set of images used as conditioning
// input for the next generation request.
package imagectx

import (
	"slices"
	"sync"

	"github.com/fcinq/genchat/pkg/models"
)

// Manager owns the context images. Ids are unique within the collection.
type Manager struct {
	mu        sync.RWMutex
	images    []models.ContextImage
	listeners []func(n int)
}

func New() *Manager {
	return &Manager{}
}

// OnChange registers fn to be called with the new length after every
// mutation that changed the collection.
func (m *Manager) OnChange(fn func(n int)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Add appends img unless an entry with the same id already exists.
func (m *Manager) Add(img models.ContextImage) bool {
	m.mu.Lock()
	if m.indexLocked(img.ID) >= 0 {
		m.mu.Unlock()
		return false
	}
	m.images = append(m.images, img)
	n := len(m.images)
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	notify(listeners, n)
	return true
}

// Remove deletes the entry with id. Removing an absent id is a no-op.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		m.mu.Unlock()
		return false
	}
	m.images = slices.Delete(m.images, i, i+1)
	n := len(m.images)
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	notify(listeners, n)
	return true
}

// RemoveAll deletes every entry whose id is in ids and reports how many
// were removed. Listeners fire once.
func (m *Manager) RemoveAll(ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	m.mu.Lock()
	before := len(m.images)
	m.images = slices.DeleteFunc(m.images, func(img models.ContextImage) bool {
		return slices.Contains(ids, img.ID)
	})
	removed := before - len(m.images)
	n := len(m.images)
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	if removed > 0 {
		notify(listeners, n)
	}
	return removed
}

func (m *Manager) Clear() {
	m.mu.Lock()
	if len(m.images) == 0 {
		m.mu.Unlock()
		return
	}
	m.images = nil
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	notify(listeners, 0)
}

func (m *Manager) Get(id string) (models.ContextImage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.indexLocked(id)
	if i < 0 {
		return models.ContextImage{}, false
	}
	return m.images[i], true
}

// List returns a copy in insertion order.
func (m *Manager) List() []models.ContextImage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.images)
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.images)
}

func (m *Manager) IsEmpty() bool {
	return m.Len() == 0
}

func (m *Manager) indexLocked(id string) int {
	return slices.IndexFunc(m.images, func(img models.ContextImage) bool {
		return img.ID == id
	})
}

func notify(listeners []func(int), n int) {
	for _, fn := range listeners {
		fn(n)
	}
}
