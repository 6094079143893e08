// Package syncer keeps server-derived console state fresh by polling the backend.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wayne-enterprises/wayne-console/internal/backend"
	"github.com/wayne-enterprises/wayne-console/internal/notify"
	"github.com/wayne-enterprises/wayne-console/internal/shared"
)

// DefaultInterval is the automatic refresh period.
const DefaultInterval = 30 * time.Second

// NetworkStatus reflects the outcome of the latest cycle.
type NetworkStatus string

const (
	Online  NetworkStatus = "online"
	Offline NetworkStatus = "offline"
)

// FetchFunc loads one resource kind with the given bearer token.
type FetchFunc func(ctx context.Context, token string) (any, error)

// Resource is a named slot in the state container.
type Resource struct {
	Kind  string
	Fetch FetchFunc
}

// Invalidator ends the session holding token when the backend rejects it.
type Invalidator interface {
	InvalidateToken(ctx context.Context, token, reason string)
}

// Config tunes the engine.
type Config struct {
	Interval       time.Duration
	AutoRefresh    bool
	RefreshOnStart bool
	Resources      []Resource
}

// DefaultConfig mirrors the console's polling behaviour.
func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, AutoRefresh: true, RefreshOnStart: true}
}

// State is a snapshot of the state container.
type State struct {
	Cache         map[string]any `json:"cache"`
	LastSuccessAt *time.Time     `json:"last_success_at,omitempty"`
	NetworkStatus NetworkStatus  `json:"network_status"`
	LastError     *backend.Error `json:"last_error,omitempty"`
}

func (s State) clone() State {
	out := State{Cache: maps.Clone(s.Cache), NetworkStatus: s.NetworkStatus}
	if out.Cache == nil {
		out.Cache = map[string]any{}
	}
	if s.LastSuccessAt != nil {
		t := *s.LastSuccessAt
		out.LastSuccessAt = &t
	}
	if s.LastError != nil {
		e := *s.LastError
		out.LastError = &e
	}
	return out
}

func emptyState() State {
	return State{Cache: map[string]any{}, NetworkStatus: Online}
}

// Engine runs refresh cycles on a schedule or on demand.
type Engine struct {
	mu          sync.Mutex
	cfg         Config
	resources   []Resource
	invalidator Invalidator
	notifier    notify.Pusher
	logger      *slog.Logger
	metrics     *Metrics
	sem         *semaphore.Weighted
	clock       func() time.Time

	token   string
	gen     uint64
	genCtx  context.Context
	cancel  context.CancelFunc
	state   State
	subs    map[int]func(State)
	nextSub int
}

// NewEngine constructs an idle engine. Nil collaborators are allowed.
func NewEngine(cfg Config, invalidator Invalidator, notifier notify.Pusher, logger *slog.Logger, metrics *Metrics) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:         cfg,
		resources:   slices.Clone(cfg.Resources),
		invalidator: invalidator,
		notifier:    notifier,
		logger:      logger,
		metrics:     metrics,
		sem:         semaphore.NewWeighted(1),
		clock:       time.Now,
		state:       emptyState(),
		subs:        make(map[int]func(State)),
	}
}

// SetResources replaces the fetched resource kinds from the next cycle on.
func (e *Engine) SetResources(resources []Resource) {
	e.mu.Lock()
	e.resources = slices.Clone(resources)
	e.mu.Unlock()
}

// Start arms the engine with token. An empty token is ignored and the same
// token while running is a no-op; a different token restarts the schedule.
func (e *Engine) Start(token string) {
	if token == "" {
		return
	}
	e.mu.Lock()
	if e.token == token {
		e.mu.Unlock()
		return
	}
	e.stopLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.genCtx, e.cancel, e.token = ctx, cancel, token
	gen := e.gen
	auto := e.cfg.AutoRefresh
	e.mu.Unlock()

	e.logger.Info("sync engine started", slog.Bool("auto_refresh", auto), slog.Duration("interval", e.cfg.Interval))
	if auto {
		go e.loop(ctx, gen, token)
	}
}

// Stop cancels the schedule and any in-flight fetch. Results of cycles that
// were running are discarded. Safe to call when not started.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasRunning := e.token != ""
	e.stopLocked()
	e.mu.Unlock()
	if wasRunning {
		e.logger.Info("sync engine stopped")
	}
}

func (e *Engine) stopLocked() {
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = nil
	e.genCtx = nil
	e.token = ""
	e.gen++
}

// Running reports whether the engine holds a token.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token != ""
}

// ForceRefresh waits for an in-flight cycle to finish, then runs one cycle.
// It does not reset the schedule.
func (e *Engine) ForceRefresh(ctx context.Context) error {
	e.mu.Lock()
	token, gen, genCtx := e.token, e.gen, e.genCtx
	e.mu.Unlock()
	if token == "" {
		return fmt.Errorf("syncer: force refresh: %w", shared.ErrNotLoggedIn)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("syncer: force refresh: %w", err)
	}
	defer e.sem.Release(1)

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(genCtx, cancel)
	defer stop()
	return e.cycle(cctx, gen, token, TriggerManual)
}

// Reset clears the state container.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.state = emptyState()
	snapshot, subs := e.snapshotLocked()
	e.mu.Unlock()
	publish(subs, snapshot)
}

// State returns a copy of the state container.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Subscribe registers fn to receive a snapshot after every applied cycle.
func (e *Engine) Subscribe(fn func(State)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) loop(ctx context.Context, gen uint64, token string) {
	if e.cfg.RefreshOnStart {
		e.tick(ctx, gen, token, TriggerStart)
	}
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx, gen, token, TriggerTick)
		}
	}
}

func (e *Engine) tick(ctx context.Context, gen uint64, token, trigger string) {
	if ctx.Err() != nil {
		return
	}
	if !e.sem.TryAcquire(1) {
		e.metrics.droppedTick()
		e.logger.Debug("refresh skipped, cycle in flight", slog.String("trigger", trigger))
		return
	}
	defer e.sem.Release(1)
	_ = e.cycle(ctx, gen, token, trigger)
}

type fetchResult struct {
	value any
	err   error
}

// cycle fetches every resource concurrently and applies the outcome if the
// generation is still current. Callers hold the semaphore.
func (e *Engine) cycle(ctx context.Context, gen uint64, token, trigger string) error {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return nil
	}
	resources := slices.Clone(e.resources)
	e.mu.Unlock()

	tracker := e.metrics.track(trigger)
	results := make([]fetchResult, len(resources))
	var g errgroup.Group
	for i, r := range resources {
		g.Go(func() error {
			v, err := r.Fetch(ctx, token)
			results[i] = fetchResult{value: v, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var authErr, firstErr error
	failedKind := ""
	failed := 0
	for i, res := range results {
		if res.err == nil {
			continue
		}
		failed++
		e.metrics.resourceFailed(resources[i].Kind)
		switch {
		case backend.IsAuth(res.err):
			if authErr == nil {
				authErr = res.err
			}
		case firstErr == nil:
			firstErr = res.err
			failedKind = resources[i].Kind
		}
	}

	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		tracker.end(OutcomeDiscarded)
		return nil
	}

	if authErr != nil {
		e.stopLocked()
		e.mu.Unlock()
		tracker.end(OutcomeUnauthorized)
		e.logger.Warn("backend rejected token, stopping sync", slog.Any("error", authErr))
		if e.invalidator != nil {
			e.invalidator.InvalidateToken(context.WithoutCancel(ctx), token, "")
		}
		return authErr
	}

	for i, res := range results {
		if res.err == nil {
			e.state.Cache[resources[i].Kind] = res.value
		}
	}
	if firstErr == nil {
		now := e.clock()
		e.state.LastSuccessAt = &now
		e.state.NetworkStatus = Online
		e.state.LastError = nil
	} else {
		e.state.NetworkStatus = Offline
		e.state.LastError = asBackendError(firstErr)
	}
	snapshot, subs := e.snapshotLocked()
	e.mu.Unlock()

	publish(subs, snapshot)

	switch {
	case firstErr == nil:
		tracker.end(OutcomeSuccess)
		return nil
	case failed < len(resources):
		tracker.end(OutcomePartial)
	default:
		tracker.end(OutcomeFailure)
	}
	e.logger.Warn("refresh cycle failed", slog.String("trigger", trigger), slog.String("kind", failedKind), slog.Any("error", firstErr))
	if e.notifier != nil {
		e.notifier.Push(failureMessage(snapshot.LastError), notify.KindError, 0)
	}
	return firstErr
}

func (e *Engine) snapshotLocked() (State, []func(State)) {
	subs := make([]func(State), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	return e.state.clone(), subs
}

func publish(subs []func(State), snapshot State) {
	for _, fn := range subs {
		fn(snapshot)
	}
}

func asBackendError(err error) *backend.Error {
	if be, ok := backend.AsError(err); ok {
		return be
	}
	return &backend.Error{Kind: backend.KindServer, Message: err.Error(), Err: err}
}

func failureMessage(be *backend.Error) string {
	if be.Kind == backend.KindTransport {
		return shared.UserSafeMessage(shared.ErrTransport)
	}
	return "Could not refresh data: " + be.Message
}
