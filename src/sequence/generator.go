package sequence

import (
	"context"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

// CheckpointStore is the durable backing of a generator. Satisfied by
// repository.SequenceRepository.
type CheckpointStore interface {
	Load(ctx context.Context, scope string) (int64, error)
	Store(ctx context.Context, scope string, value int64) error
}

// Generator hands out strictly increasing request counters for one
// credential scope. Safe for any number of concurrent callers; it never
// fails, it can only stall callers under the warm-up burst limiter.
//
// Restart safety: on startup the generator resumes at checkpoint + reserve,
// where reserve is twice the checkpoint cadence. Issued values never run
// further than reserve past the last durable checkpoint: a failed checkpoint
// write is retried on the very next call while the reserve still covers the
// gap, and once the gap reaches the reserve Next blocks until a write lands.
// So no value is ever replayed, even through a run of store failures.
type Generator struct {
	scope string
	store CheckpointStore

	mu              sync.Mutex
	last            int64
	sinceCheckpoint int64

	checkpointEvery int64
	warmupUntil     time.Time
	minInterval     time.Duration
	lastIssued      time.Time

	callLock *CallLock
}

// New loads the durable checkpoint for scope and returns a ready generator.
func New(ctx context.Context, scope string, store CheckpointStore, cfg Config) (*Generator, error) {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 64
	}

	checkpoint, err := store.Load(ctx, scope)
	if err != nil {
		return nil, err
	}

	reserve := 2 * cfg.CheckpointEvery
	g := &Generator{
		scope:           scope,
		store:           store,
		last:            checkpoint + reserve,
		checkpointEvery: cfg.CheckpointEvery,
		callLock:        NewCallLock(),
	}

	if cfg.WarmupWindow > 0 && cfg.WarmupMaxPerSecond > 0 {
		g.warmupUntil = time.Now().Add(cfg.WarmupWindow)
		g.minInterval = time.Second / time.Duration(cfg.WarmupMaxPerSecond)
	}

	// Persist the reserved base immediately so a crash before the first
	// periodic checkpoint still restarts above everything we may issue.
	if err := store.Store(ctx, scope, g.last); err != nil {
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"scope":      scope,
		"checkpoint": checkpoint,
		"resume_at":  g.last,
	}).Info("sequence generator initialized")

	return g, nil
}

// Next returns the next sequence value, strictly greater than every value
// returned before it, in this process or any previous one.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.throttle()

	g.last++
	g.sinceCheckpoint++
	g.lastIssued = time.Now()

	if g.sinceCheckpoint >= g.checkpointEvery {
		g.checkpoint()
	}

	return g.last
}

// checkpoint persists g.last. While issued values are still covered by the
// reserve block, a failed write is just logged and retried on the next call.
// At the reserve boundary the write must land before another value can be
// issued, so checkpoint blocks and retries until the store accepts it.
// Caller holds g.mu.
func (g *Generator) checkpoint() {
	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := g.store.Store(ctx, g.scope, g.last)
		cancel()

		if err == nil {
			g.sinceCheckpoint = 0
			return
		}

		logger.WithFields(map[string]interface{}{
			"scope":   g.scope,
			"attempt": attempt,
		}).WithError(err).Error("failed to write sequence checkpoint")

		if g.sinceCheckpoint < 2*g.checkpointEvery {
			// Still inside the reserve; the next call retries.
			return
		}

		delay := time.Duration(attempt+1) * 50 * time.Millisecond
		if delay > 2*time.Second {
			delay = 2 * time.Second
		}
		time.Sleep(delay)
	}
}

// throttle enforces the warm-up call rate. Called with g.mu held so stalled
// callers also keep issue order.
func (g *Generator) throttle() {
	if g.minInterval <= 0 || time.Now().After(g.warmupUntil) {
		return
	}

	if g.lastIssued.IsZero() {
		return
	}

	if wait := g.minInterval - time.Since(g.lastIssued); wait > 0 {
		time.Sleep(wait)
	}
}

// Lock returns the exchange call lock for this generator's credential scope.
func (g *Generator) Lock() *CallLock {
	return g.callLock
}

// Scope returns the credential scope this generator serves.
func (g *Generator) Scope() string {
	return g.scope
}

// Registry shares one generator per credential scope. Exchange links whose
// authentication requires global ordering resolve to the same instance.
type Registry struct {
	mu    sync.Mutex
	store CheckpointStore
	cfg   Config
	gens  map[string]*Generator
}

func NewRegistry(store CheckpointStore, cfg Config) *Registry {
	return &Registry{
		store: store,
		cfg:   cfg,
		gens:  make(map[string]*Generator),
	}
}

// ForScope returns the shared generator for a credential scope, creating it
// on first use.
func (r *Registry) ForScope(ctx context.Context, scope string) (*Generator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.gens[scope]; ok {
		return g, nil
	}

	g, err := New(ctx, scope, r.store, r.cfg)
	if err != nil {
		return nil, err
	}

	r.gens[scope] = g
	return g, nil
}
