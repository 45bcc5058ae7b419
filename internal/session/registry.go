// Package session tracks live terminal sessions. The Registry is the only
// shared mutable structure in the gateway: both front doors create and
// attach sessions through it, and every termination path (client close,
// upstream exit, TTL watchdog, explicit stop) converges on Destroy.
package session

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/arcten/shellgate/internal/access"
	"github.com/google/uuid"
)

// State is the lifecycle state of a terminal session.
type State string

const (
	// StatePending means the session is minted but no transport is bound.
	StatePending State = "pending"
	// StateConnecting means a caller has attached and the target
	// connection is being established.
	StateConnecting State = "connecting"
	// StateActive means the relay is running.
	StateActive State = "active"
	// StateClosing means teardown has begun.
	StateClosing State = "closing"
	// StateClosed means handles are released and the session is gone.
	StateClosed State = "closed"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrExpired   = errors.New("session expired")
	ErrForbidden = errors.New("session owned by another user")
	ErrConflict  = errors.New("session already attached")
)

// Session is one authorized, time-bounded binding between a caller and a
// cluster. The owner is fixed at creation. Handles registered through
// AddCloser are owned exclusively by the session and released exactly once.
type Session struct {
	ID        string
	Owner     access.Identity
	ClusterID uint
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	closers  []io.Closer
	done     chan struct{}
	watchdog *time.Timer
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState advances the lifecycle state. Transitions out of closed are
// ignored so late relay goroutines cannot resurrect a destroyed session.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = state
}

// AddCloser registers a handle to be released on destroy. If the session
// is already closed the handle is closed immediately.
func (s *Session) AddCloser(c io.Closer) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.closers = append(s.closers, c)
	s.mu.Unlock()
}

// Done is closed when the session has been destroyed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Age returns how long ago the session was created.
func (s *Session) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// close releases the session's handles. Idempotent: concurrent teardown
// paths race here and only the first performs the release.
func (s *Session) close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	closers := s.closers
	s.closers = nil
	if s.watchdog != nil {
		s.watchdog.Stop()
	}
	close(s.done)
	s.mu.Unlock()

	// Release in reverse registration order: client-facing handles were
	// usually registered last and should unblock first.
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close()
	}
}

// Info is a snapshot of a session for listing endpoints.
type Info struct {
	ID        string    `json:"id"`
	ClusterID uint      `json:"cluster_id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Registry is the bounded, TTL-enforcing table of live sessions.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	max      int
}

// NewRegistry creates a registry enforcing the given TTL and maximum
// number of concurrent sessions.
func NewRegistry(ttl time.Duration, max int) *Registry {
	if max <= 0 {
		max = 1
	}
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		max:      max,
	}
}

// TTL returns the configured session time-to-live.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Create mints a new pending session owned by the caller. Expired entries
// are swept opportunistically and, if the registry is still full, the
// oldest entry is evicted. The session being created is inserted after
// eviction and is therefore never the victim. A watchdog destroys the
// session when its TTL elapses.
func (r *Registry) Create(owner access.Identity, clusterID uint) *Session {
	s := &Session{
		ID:        uuid.New().String(),
		Owner:     owner,
		ClusterID: clusterID,
		CreatedAt: time.Now(),
		state:     StatePending,
		done:      make(chan struct{}),
	}

	var victims []*Session

	r.mu.Lock()
	victims = append(victims, r.expiredLocked()...)
	for _, v := range victims {
		delete(r.sessions, v.ID)
	}
	for len(r.sessions) >= r.max {
		oldest := r.oldestLocked()
		if oldest == nil {
			break
		}
		delete(r.sessions, oldest.ID)
		victims = append(victims, oldest)
		log.Printf("[registry] evicted session %s (registry full, max=%d)", oldest.ID, r.max)
	}
	r.sessions[s.ID] = s
	r.mu.Unlock()

	for _, v := range victims {
		v.close()
	}

	s.watchdog = time.AfterFunc(r.ttl, func() {
		log.Printf("[registry] session %s TTL elapsed", s.ID)
		r.Destroy(s.ID)
	})

	log.Printf("[registry] created session %s (user=%d org=%d cluster=%d)",
		s.ID, owner.UserID, owner.OrgID, clusterID)
	return s
}

// Attach binds a caller to a pending session, transitioning it to
// connecting exactly once. A second attach while the session is
// connecting or active fails with ErrConflict, so a guessed or leaked
// session id cannot displace the live transport.
func (r *Registry) Attach(id string, caller access.Identity) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.Age() > r.ttl {
		delete(r.sessions, id)
		r.mu.Unlock()
		s.close()
		return nil, ErrExpired
	}
	if s.Owner != caller {
		r.mu.Unlock()
		return nil, ErrForbidden
	}

	s.mu.Lock()
	if s.state != StatePending {
		s.mu.Unlock()
		r.mu.Unlock()
		return nil, ErrConflict
	}
	s.state = StateConnecting
	s.mu.Unlock()
	r.mu.Unlock()
	return s, nil
}

// Get returns a live session by id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Destroy removes the session and releases its handles. Idempotent and
// safe to call concurrently from any completion path.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.close()
		log.Printf("[registry] destroyed session %s", id)
	}
}

// Sweep destroys every session past its TTL and reports how many.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	expired := r.expiredLocked()
	for _, s := range expired {
		delete(r.sessions, s.ID)
	}
	r.mu.Unlock()

	for _, s := range expired {
		s.close()
		log.Printf("[registry] swept expired session %s (age %s)", s.ID, s.Age().Round(time.Second))
	}
	return len(expired)
}

// DestroyAll tears down every session, used at shutdown.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

// Count returns the number of tracked sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ListForCluster returns snapshots of the caller's sessions on a cluster.
func (r *Registry) ListForCluster(clusterID uint, owner access.Identity) []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := []Info{}
	for _, s := range r.sessions {
		if s.ClusterID != clusterID || s.Owner != owner {
			continue
		}
		infos = append(infos, Info{
			ID:        s.ID,
			ClusterID: s.ClusterID,
			State:     s.State(),
			CreatedAt: s.CreatedAt,
		})
	}
	return infos
}

// expiredLocked collects sessions past the TTL. Caller holds r.mu.
func (r *Registry) expiredLocked() []*Session {
	var out []*Session
	for _, s := range r.sessions {
		if s.Age() > r.ttl {
			out = append(out, s)
		}
	}
	return out
}

// oldestLocked finds the oldest session. Caller holds r.mu.
func (r *Registry) oldestLocked() *Session {
	var oldest *Session
	for _, s := range r.sessions {
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	return oldest
}
