// Package session owns the authenticated principal and its durable copy.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wayne-enterprises/wayne-console/internal/backend"
	"github.com/wayne-enterprises/wayne-console/internal/notify"
	"github.com/wayne-enterprises/wayne-console/internal/rbac"
	"github.com/wayne-enterprises/wayne-console/internal/shared"
)

// State is the session lifecycle state.
type State string

const (
	LoggedOut State = "logged_out"
	LoggedIn  State = "logged_in"
)

// DefaultInvalidReason is shown when the backend rejects the token.
const DefaultInvalidReason = "Session expired or invalid token. Please log in again."

// Principal is the authenticated identity.
type Principal struct {
	Username string    `json:"username"`
	Role     rbac.Role `json:"role"`
	Token    string    `json:"token"`
}

// normalize canonicalizes the role and reports whether p is well-formed. A role
// the console does not recognize is kept as issued and grants ReadOnly.
func (p Principal) normalize() (Principal, error) {
	p.Username = strings.TrimSpace(p.Username)
	raw := strings.TrimSpace(string(p.Role))
	switch {
	case p.Username == "":
		return p, fmt.Errorf("session: principal username is empty: %w", shared.ErrValidation)
	case p.Token == "":
		return p, fmt.Errorf("session: principal token is empty: %w", shared.ErrValidation)
	case raw == "":
		return p, fmt.Errorf("session: principal role is empty: %w", shared.ErrValidation)
	}
	if role, ok := rbac.ParseRole(raw); ok {
		p.Role = role
	} else {
		p.Role = rbac.Role(strings.ToUpper(raw))
	}
	return p, nil
}

// Capabilities returns what the principal may do.
func (p Principal) Capabilities() rbac.Capabilities {
	return rbac.CapabilitiesFor(p.Role)
}

// TokenExpiry reads the token's exp claim without verifying it. It is for
// display only and never gates a request.
func (p Principal) TokenExpiry() (time.Time, bool) {
	exp, err := backend.TokenExpiry(p.Token)
	if err != nil {
		return time.Time{}, false
	}
	return exp, true
}

// Event describes a session transition.
type Event struct {
	State     State
	Principal *Principal
	Reason    string
}

// Store is the single source of truth for the current principal.
type Store struct {
	mu        sync.Mutex
	persistMu sync.Mutex // orders storage writes; gen decides which one wins
	gen       uint64
	storage   Storage
	notifier  notify.Pusher
	logger    *slog.Logger
	state     State
	principal *Principal
	subs      map[int]func(Event)
	nextSub   int
}

// NewStore constructs a Store in the LoggedOut state.
func NewStore(storage Storage, notifier notify.Pusher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		storage:  storage,
		notifier: notifier,
		logger:   logger,
		state:    LoggedOut,
		subs:     make(map[int]func(Event)),
	}
}

// Restore loads the persisted principal. A missing, malformed or ill-formed
// value leaves the store LoggedOut; the latter two are removed from storage.
func (s *Store) Restore(ctx context.Context) (bool, error) {
	raw, err := s.storage.Get(ctx, PrincipalKey)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		s.logger.Warn("restore session", slog.Any("error", err))
		return false, fmt.Errorf("session: restore: %w", err)
	}

	var stored Principal
	if err := json.Unmarshal(raw, &stored); err != nil {
		s.discard(ctx, err)
		return false, nil
	}
	p, err := stored.normalize()
	if err != nil {
		s.discard(ctx, err)
		return false, nil
	}

	s.mu.Lock()
	s.principal = &p
	s.state = LoggedIn
	s.gen++
	ev, subs := s.eventLocked("")
	s.mu.Unlock()

	s.logger.Info("session restored", slog.String("username", p.Username), slog.String("role", string(p.Role)))
	publish(subs, ev)
	return true, nil
}

func (s *Store) discard(ctx context.Context, cause error) {
	s.logger.Warn("discard persisted session", slog.Any("error", cause))
	if err := s.storage.Delete(ctx, PrincipalKey); err != nil {
		s.logger.Warn("remove persisted session", slog.Any("error", err))
	}
}

// Login replaces the current principal. The in-memory session becomes active
// before storage is written; a storage failure is returned but does not undo it.
// The principal is not written when the session ended in the meantime.
func (s *Store) Login(ctx context.Context, p Principal) error {
	p, err := p.normalize()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.principal = &p
	s.state = LoggedIn
	s.gen++
	gen := s.gen
	ev, subs := s.eventLocked("")
	s.mu.Unlock()
	publish(subs, ev)

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("session: encode principal: %w", err)
	}
	if err := s.persist(gen, func() error { return s.storage.Set(ctx, PrincipalKey, data) }); err != nil {
		s.logger.Warn("persist session", slog.Any("error", err))
		return fmt.Errorf("session: login: %w", err)
	}
	return nil
}

// Logout clears the principal. It is a no-op when already LoggedOut.
func (s *Store) Logout(ctx context.Context) error {
	return s.end(ctx, "", "")
}

// Invalidate ends an active session because the backend rejected its token
// and tells the user why. It does nothing when already LoggedOut.
func (s *Store) Invalidate(ctx context.Context, reason string) {
	s.InvalidateToken(ctx, "", reason)
}

// InvalidateToken is Invalidate scoped to the session holding token, so a late
// rejection of an old token cannot end a newer session. An empty token matches
// any session.
func (s *Store) InvalidateToken(ctx context.Context, token, reason string) {
	if reason == "" {
		reason = DefaultInvalidReason
	}
	if err := s.end(ctx, token, reason); err != nil {
		s.logger.Warn("invalidate session", slog.Any("error", err))
	}
}

func (s *Store) end(ctx context.Context, token, reason string) error {
	s.mu.Lock()
	if s.state == LoggedOut || (token != "" && s.principal.Token != token) {
		s.mu.Unlock()
		return nil
	}
	username := s.principal.Username
	s.principal = nil
	s.state = LoggedOut
	s.gen++
	gen := s.gen
	ev, subs := s.eventLocked(reason)
	s.mu.Unlock()

	if reason != "" {
		s.logger.Warn("session invalidated", slog.String("username", username), slog.String("reason", reason))
		if s.notifier != nil {
			s.notifier.Push(reason, notify.KindError, 0)
		}
	} else {
		s.logger.Info("session closed", slog.String("username", username))
	}
	publish(subs, ev)

	if err := s.persist(gen, func() error { return s.storage.Delete(ctx, PrincipalKey) }); err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	return nil
}

// persist runs write unless a later transition superseded gen. Writes are
// serialized, so storage always ends up matching the newest transition.
func (s *Store) persist(gen uint64, write func() error) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.mu.Lock()
	current := s.gen == gen
	s.mu.Unlock()
	if !current {
		return nil
	}
	return write()
}

// Current returns a copy of the active principal.
func (s *Store) Current() (Principal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil {
		return Principal{}, false
	}
	return *s.principal, true
}

// State returns the lifecycle state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the active bearer token, or "".
func (s *Store) Token() string {
	p, ok := s.Current()
	if !ok {
		return ""
	}
	return p.Token
}

// CurrentRole implements rbac.RoleSource.
func (s *Store) CurrentRole() (rbac.Role, bool) {
	p, ok := s.Current()
	if !ok {
		return "", false
	}
	return p.Role, true
}

// Subscribe registers fn for every transition.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) eventLocked(reason string) (Event, []func(Event)) {
	ev := Event{State: s.state, Reason: reason}
	if s.principal != nil {
		p := *s.principal
		ev.Principal = &p
	}
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return ev, subs
}

func publish(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
