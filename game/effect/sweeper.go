package effect

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/combatcore/cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	sweepLeaseKey  = "effects:sweep:lease"
	sweepStatusKey = "effects:sweep:status"
)

// ErrSweepBusy is returned when another sweep holds the lease.
var ErrSweepBusy = errors.New("effect: sweep already running")

// SweeperConfig paces bulk sweeps.
type SweeperConfig struct {
	Rate     float64       // instances per second; <= 0 disables pacing
	Burst    int
	LeaseTTL time.Duration // upper bound on one bulk sweep
}

// Sweeper drives Engine.SweepAll. A cache lease keeps processes sharing one
// cache from sweeping at the same time; a local mutex does the same within
// one process.
type Sweeper struct {
	engine  *Engine
	c       cache.Cache
	limiter *rate.Limiter
	ttl     time.Duration
	owner   string
	logger  *zap.Logger

	running  sync.Mutex
	mu       sync.Mutex
	lastRun  time.Time
	lastDone int
}

// NewSweeper creates a Sweeper.
func NewSweeper(engine *Engine, c cache.Cache, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Sweeper{
		engine:  engine,
		c:       c,
		limiter: limiter,
		ttl:     ttl,
		owner:   uuid.NewString(),
		logger:  logger,
	}
}

// RunOnce performs one bulk sweep. It returns ErrSweepBusy if a sweep is
// already in progress here or in another process.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if !s.running.TryLock() {
		return 0, ErrSweepBusy
	}
	defer s.running.Unlock()

	ok, err := s.c.SetNX(ctx, sweepLeaseKey, s.owner, s.ttl)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrSweepBusy
	}
	defer s.release()

	sweepCtx, cancel := context.WithTimeout(ctx, s.ttl)
	defer cancel()

	start := time.Now()
	n, err := s.engine.SweepAll(sweepCtx, s.limiter)
	s.mu.Lock()
	s.lastRun, s.lastDone = start, n
	s.mu.Unlock()
	s.record(ctx, start, n, err)
	if n > 0 || err != nil {
		s.logger.Debug("effect sweep finished",
			zap.Int("processed", n),
			zap.Duration("took", time.Since(start)),
			zap.Error(err))
	}
	return n, err
}

// Tick runs one sweep as a scheduler task. Busy and cancelled sweeps are
// not reported.
func (s *Sweeper) Tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, ErrSweepBusy) && ctx.Err() == nil {
		s.logger.Warn("effect sweep aborted", zap.Error(err))
	}
}

// record stores the outcome of the last sweep in the shared cache so any
// node can report it.
func (s *Sweeper) record(ctx context.Context, start time.Time, n int, sweepErr error) {
	fields := map[string]string{
		"owner":     s.owner,
		"last_run":  start.UTC().Format(time.RFC3339Nano),
		"processed": strconv.Itoa(n),
		"error":     "",
	}
	if sweepErr != nil {
		fields["error"] = sweepErr.Error()
	}
	for f, v := range fields {
		if err := s.c.HSet(ctx, sweepStatusKey, f, v); err != nil {
			s.logger.Debug("sweep status not recorded", zap.Error(err))
			return
		}
	}
}

// SharedStatus returns the last sweep outcome recorded by any node.
func (s *Sweeper) SharedStatus(ctx context.Context) (map[string]string, error) {
	return s.c.HGetAll(ctx, sweepStatusKey)
}

// LastRun returns the start time and result of the last completed sweep.
func (s *Sweeper) LastRun() (time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastDone
}

func (s *Sweeper) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := s.c.Get(ctx, sweepLeaseKey)
	if err != nil {
		if !cache.IsNotFound(err) {
			s.logger.Warn("sweep lease not released", zap.Error(err))
		}
		return
	}
	if v != s.owner {
		return
	}
	if err := s.c.Del(ctx, sweepLeaseKey); err != nil {
		s.logger.Warn("sweep lease not released", zap.Error(err))
	}
}
