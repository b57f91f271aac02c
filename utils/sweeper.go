package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrSweepLocked is returned when another process on this host holds the sweep lock.
var ErrSweepLocked = errors.New("staging sweep already running")

// Purger removes expired staged uploads.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Sweeper periodically purges abandoned staged uploads. A file lock keeps
// concurrent processes on one host from sweeping at the same time.
type Sweeper struct {
	purger  Purger
	lock    *flock.Flock
	log     *zap.Logger
	timeout time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

func NewSweeper(p Purger, lockPath string, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		purger:  p,
		lock:    flock.New(lockPath),
		log:     log,
		timeout: time.Minute,
	}
}

// RunOnce performs a single sweep while holding the lock.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	if err := os.MkdirAll(filepath.Dir(s.lock.Path()), 0o755); err != nil {
		return 0, fmt.Errorf("create sweep lock dir: %w", err)
	}
	ok, err := s.lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return 0, ErrSweepLocked
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("release sweep lock", zap.Error(err))
		}
	}()
	return s.purger.PurgeExpired(ctx)
}

// Start schedules RunOnce on a cron spec such as "@every 5m".
func (s *Sweeper) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweeper already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("staging sweeper started", zap.String("schedule", schedule))
	return nil
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	n, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrSweepLocked):
		s.log.Debug("staging sweep skipped, lock held")
	case err != nil:
		s.log.Error("staging sweep failed", zap.Error(err))
	case n > 0:
		s.log.Info("staging sweep purged files", zap.Int("count", n))
	}
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
