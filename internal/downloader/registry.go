package downloader

import (
	"context"
	"sync"
	"time"

	"github.com/FaulknerMassimo/m3u-downloader/internal/downloader/progress"
)

// ActiveTransfer is the in-memory state of one in-flight download.
type ActiveTransfer struct {
	ID        int64
	Title     string
	FilePath  string
	StartTime time.Time

	cancel context.CancelCauseFunc
	done   chan struct{} // closed when the transfer goroutine has returned

	mu     sync.RWMutex
	sample progress.Sample
}

func newActiveTransfer(id int64, title, filePath string, start time.Time, cancel context.CancelCauseFunc) *ActiveTransfer {
	return &ActiveTransfer{
		ID:        id,
		Title:     title,
		FilePath:  filePath,
		StartTime: start,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (t *ActiveTransfer) update(s progress.Sample) {
	t.mu.Lock()
	t.sample = s
	t.mu.Unlock()
}

func (t *ActiveTransfer) setTotal(total int64) {
	t.mu.Lock()
	t.sample.TotalBytes = total
	t.mu.Unlock()
}

// Snapshot returns the latest sampled state.
func (t *ActiveTransfer) Snapshot() progress.Sample {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.sample
}

// Registry maps download ids to their in-flight transfers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	transfers map[int64]*ActiveTransfer
}

func NewRegistry() *Registry {
	return &Registry{transfers: make(map[int64]*ActiveTransfer)}
}

func (r *Registry) add(t *ActiveTransfer) {
	r.mu.Lock()
	r.transfers[t.ID] = t
	r.mu.Unlock()
}

func (r *Registry) Get(id int64) (*ActiveTransfer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.transfers[id]

	return t, ok
}

// take removes and returns the transfer for id. Exactly one caller gets ok == true for a
// registered id, which decides who writes the terminal state.
func (r *Registry) take(id int64) (*ActiveTransfer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[id]
	if ok {
		delete(r.transfers, id)
	}

	return t, ok
}

// Snapshots returns the current sample of every in-flight transfer.
func (r *Registry) Snapshots() map[int64]progress.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int64]progress.Sample, len(r.transfers))
	for id, t := range r.transfers {
		out[id] = t.Snapshot()
	}

	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.transfers)
}
