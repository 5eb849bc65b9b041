// Package lock is a per-path reader/writer lock registry for the content
// tree.
//
// Locks are hierarchical: an operation on path P holds read locks on every
// proper ancestor of P (including the root "") and its own mode on P, so a
// write lock on a subtree root excludes every operation inside the subtree.
// All requests of one operation are merged and acquired in a single global
// order (ancestors before descendants, siblings by name), which rules out
// lock-order deadlocks between operations.
package lock

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/starford/infrawiki/internal/apperr"
	"github.com/starford/infrawiki/internal/pathres"
)

// Mode is the access mode of a lock request.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

// maxReaders is the weight of a writer. Readers weigh 1.
const maxReaders = 1 << 20

// DefaultTimeout bounds a lock wait when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Request asks for Mode access to the node at Path.
type Request struct {
	Path string
	Mode Mode
}

// R and W build read and write requests.
func R(path string) Request { return Request{Path: path, Mode: Read} }
func W(path string) Request { return Request{Path: path, Mode: Write} }

// Unlock releases every lock taken by one Acquire call.
type Unlock func()

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout sets the upper bound of a single Acquire call.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithObserver registers a callback invoked after every Acquire with the
// time spent waiting and whether it ended in Busy.
func WithObserver(fn func(wait time.Duration, busy bool)) Option {
	return func(m *Manager) { m.observe = fn }
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Manager owns the lock registry. The zero value is not usable; call New.
type Manager struct {
	timeout time.Duration
	observe func(time.Duration, bool)

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty registry.
func New(opts ...Option) *Manager {
	m := &Manager{
		timeout: DefaultTimeout,
		entries: make(map[string]*entry),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Acquire takes every requested lock plus the implied ancestor read locks.
// It waits at most min(ctx deadline, timeout); on expiry every lock taken so
// far is released and a busy error is returned. The returned Unlock must be
// called exactly once.
func (m *Manager) Acquire(ctx context.Context, reqs ...Request) (Unlock, error) {
	plan := Plan(reqs...)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	held := make([]Request, 0, len(plan))
	for _, r := range plan {
		e := m.ref(r.Path)
		if err := e.sem.Acquire(ctx, weight(r.Mode)); err != nil {
			m.unref(r.Path)
			m.release(held)
			m.report(start, true)
			msg := "timed out waiting for " + r.Mode.String() + " lock"
			if errors.Is(err, context.Canceled) {
				msg = "canceled while waiting for " + r.Mode.String() + " lock"
			}
			return nil, &apperr.Error{Kind: apperr.KindBusy, Op: "lock", Path: r.Path, Msg: msg, Err: err}
		}
		held = append(held, r)
	}
	m.report(start, false)

	var once sync.Once
	return func() { once.Do(func() { m.release(held) }) }, nil
}

func (m *Manager) report(start time.Time, busy bool) {
	if m.observe != nil {
		m.observe(time.Since(start), busy)
	}
}

// release gives locks back in reverse acquisition order.
func (m *Manager) release(held []Request) {
	for i := len(held) - 1; i >= 0; i-- {
		r := held[i]
		m.mu.Lock()
		e := m.entries[r.Path]
		m.mu.Unlock()
		e.sem.Release(weight(r.Mode))
		m.unref(r.Path)
	}
}

func (m *Manager) ref(path string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[path]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(maxReaders)}
		m.entries[path] = e
	}
	e.refs++
	return e
}

func (m *Manager) unref(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[path]
	e.refs--
	if e.refs == 0 {
		delete(m.entries, path)
	}
}

// Len returns the number of live registry entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func weight(m Mode) int64 {
	if m == Write {
		return maxReaders
	}
	return 1
}

// Plan expands requests with their ancestor read locks, merges duplicates
// (write wins) and returns them in acquisition order.
func Plan(reqs ...Request) []Request {
	modes := make(map[string]Mode, len(reqs)*3)
	for _, r := range reqs {
		for _, a := range pathres.Ancestors(r.Path) {
			if _, ok := modes[a]; !ok {
				modes[a] = Read
			}
		}
		if cur, ok := modes[r.Path]; !ok || r.Mode > cur {
			modes[r.Path] = r.Mode
		}
	}
	out := make([]Request, 0, len(modes))
	for p, mode := range modes {
		out = append(out, Request{Path: p, Mode: mode})
	}
	sort.Slice(out, func(i, j int) bool { return Less(out[i].Path, out[j].Path) })
	return out
}

// Less orders paths segment by segment, so a path sorts before all of its
// descendants and siblings sort by name.
func Less(a, b string) bool {
	for {
		if a == b {
			return false
		}
		if a == "" {
			return true
		}
		if b == "" {
			return false
		}
		as, arest, _ := strings.Cut(a, "/")
		bs, brest, _ := strings.Cut(b, "/")
		if as != bs {
			return as < bs
		}
		a, b = arest, brest
	}
}
