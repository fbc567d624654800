// Package session owns the process-scoped state of one running app: the
// open store and whether this activation has already caught up.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"spesebook/internal/cache"
	"spesebook/internal/clock"
	"spesebook/internal/log"
	"spesebook/internal/services"
	"spesebook/internal/storage"

	"golang.org/x/sync/singleflight"
)

var errClosed = errors.New("session closed")

// Options configure a Session.
type Options struct {
	Store          storage.Options
	CatchUpWorkers int
	CacheSweep     time.Duration // category cache cleanup period; zero disables it
	Logger         *log.Logger
}

// Session lazily opens the store and runs the recurring catch-up at most
// once per activation.
type Session struct {
	opts   Options
	clock  clock.Clock
	logger *log.Logger

	mu     sync.Mutex
	store  *storage.Store
	caches *cache.Manager
	closed bool

	activation singleflight.Group
	caughtUp   atomic.Bool
}

func New(opts Options, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.System{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default(log.ComponentSession)
	}
	if opts.Store.Logger == nil {
		opts.Store.Logger = opts.Logger
	}
	return &Session{
		opts:   opts,
		clock:  clk,
		logger: opts.Logger.WithComponent(log.ComponentSession),
	}
}

// OpenStore opens and migrates the store on first use and returns the same
// handle afterwards.
func (s *Session) OpenStore(ctx context.Context) (*storage.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errClosed
	}
	if s.store != nil {
		return s.store, nil
	}

	store, err := storage.Open(ctx, s.opts.Store)
	if err != nil {
		return nil, err
	}
	s.store = store

	s.caches = cache.NewManager(s.opts.Logger)
	s.caches.Register(store.CategoryCache())
	if s.opts.CacheSweep > 0 {
		s.caches.StartCleanup(s.opts.CacheSweep)
	}
	return store, nil
}

// Activate runs the recurring catch-up unless this activation already did.
// Concurrent callers share one run. The activation only counts as caught up
// when the pass itself succeeds; individual rule failures do not prevent it.
func (s *Session) Activate(ctx context.Context) (services.CatchUpReport, error) {
	if s.caughtUp.Load() {
		return services.CatchUpReport{}, nil
	}

	v, err, _ := s.activation.Do("catch-up", func() (any, error) {
		if s.caughtUp.Load() {
			return services.CatchUpReport{}, nil
		}
		store, err := s.OpenStore(ctx)
		if err != nil {
			return services.CatchUpReport{}, err
		}

		report, err := services.NewRecurringProcessor(store, s.opts.CatchUpWorkers, s.opts.Logger).
			CatchUp(ctx, s.clock.Now())
		if err != nil {
			return report, fmt.Errorf("catch up recurring rules: %w", err)
		}
		s.caughtUp.Store(true)
		return report, nil
	})
	report, _ := v.(services.CatchUpReport)
	return report, err
}

// Resume starts a new activation; the next Activate catches up again.
func (s *Session) Resume() {
	s.caughtUp.Store(false)
}

// CaughtUp reports whether the current activation has caught up.
func (s *Session) CaughtUp() bool {
	return s.caughtUp.Load()
}

// Close stops cache cleanup and closes the store. Later calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.caches != nil {
		s.caches.Stop()
	}
	if s.store != nil {
		s.logger.Info("Closing store", log.FieldOperation, log.OpShutdown)
		return s.store.Close()
	}
	return nil
}
