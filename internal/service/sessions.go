package service

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/LeventeLantos/scheduled-messaging/internal/errors"
)

// Sessions keeps one Manager per signed-in owner.
type Sessions struct {
	deps Deps
	opts []Option

	mu       sync.Mutex
	managers map[string]*Manager
	starting singleflight.Group
	closed   bool
}

func NewSessions(deps Deps, opts ...Option) *Sessions {
	return &Sessions{
		deps:     deps,
		opts:     opts,
		managers: make(map[string]*Manager),
	}
}

// SignIn returns the owner's Manager, creating and starting it on first use.
// The Manager is returned alongside a warning when its triggers could not all
// be registered.
func (s *Sessions) SignIn(ctx context.Context, owner string) (*Manager, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, apperrors.NewValidationError("owner", "cannot be empty")
	}

	if m, ok := s.Get(owner); ok {
		return m, nil
	}

	// Concurrent sign-ins for one owner share a single start; the session
	// lock is not held while the Manager loads.
	v, err, _ := s.starting.Do(owner, func() (any, error) {
		if m, ok := s.Get(owner); ok {
			return m, nil
		}

		m, err := NewManager(owner, s.deps, s.opts...)
		if err != nil {
			return nil, err
		}

		err = m.Start(ctx)
		if err != nil && !apperrors.IsWarning(err) {
			m.Close()
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			m.Close()
			return nil, errClosed()
		}
		s.managers[owner] = m
		return m, err
	})

	m, _ := v.(*Manager)
	if m == nil {
		return nil, err
	}
	return m, err
}

func (s *Sessions) Get(owner string) (*Manager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.managers[owner]
	return m, ok
}

// SignOut tears the owner's Manager down. It reports whether a session existed.
func (s *Sessions) SignOut(owner string) bool {
	s.mu.Lock()
	m, ok := s.managers[owner]
	delete(s.managers, owner)
	s.mu.Unlock()

	if ok {
		m.Close()
	}
	return ok
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.managers)
}

// Close signs every owner out.
func (s *Sessions) Close() {
	s.mu.Lock()
	managers := s.managers
	s.managers = make(map[string]*Manager)
	s.closed = true
	s.mu.Unlock()

	for _, m := range managers {
		m.Close()
	}
}
