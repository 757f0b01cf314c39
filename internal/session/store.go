package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/lapvision/lapvision/internal/config"
	"github.com/lapvision/lapvision/internal/timeutil"
	"github.com/lapvision/lapvision/internal/video"
	"github.com/lapvision/lapvision/internal/vpr"
)

// ErrSessionNotFound means the store has no session under the given
// id, either because it never existed or because it was closed.
var ErrSessionNotFound = errors.New("session not found")

// Store is the registry of active sessions. It is owned by the server
// rather than living as package state, so tests can run isolated
// stores side by side.
type Store struct {
	cfg   *config.TuningConfig
	clock timeutil.Clock

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore builds an empty registry. Sessions it creates share cfg and
// clock. A nil cfg uses built-in defaults and a nil clock real time.
func NewStore(cfg *config.TuningConfig, clock timeutil.Clock) *Store {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Store{
		cfg:      cfg,
		clock:    clock,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session over an opened video source under a
// fresh uuid and returns it.
func (st *Store) Create(src video.Source, embedder vpr.Embedder, minLapTime float64) *Session {
	sess := New(uuid.NewString(), src, embedder, st.cfg, minLapTime, st.clock)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[sess.ID()] = sess
	return sess
}

// Get looks up an active session by id.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	sess, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Len reports the number of active sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// Close removes the session from the registry and releases its
// resources. Later operations under the same id fail with
// ErrSessionNotFound.
func (st *Store) Close(id string) error {
	st.mu.Lock()
	sess, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return sess.Close()
}

// CloseAll releases every active session, keeping the first error and
// continuing. Used on server shutdown.
func (st *Store) CloseAll() error {
	st.mu.Lock()
	sessions := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	var firstErr error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
