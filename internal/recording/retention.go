package recording

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RetentionPolicy deletes snapshots older than a configured number of days
type RetentionPolicy struct {
	mu      sync.Mutex
	store   *Store
	days    func() int
	now     func() time.Time
	running bool
	stopCh  chan struct{}
	logger  *slog.Logger
}

// NewRetentionPolicy creates a retention manager. days is read on every run;
// zero or less keeps everything.
func NewRetentionPolicy(store *Store, days func() int) *RetentionPolicy {
	return &RetentionPolicy{
		store:  store,
		days:   days,
		now:    time.Now,
		stopCh: make(chan struct{}),
		logger: slog.Default().With("component", "retention"),
	}
}

// Start runs cleanup now and then every interval until ctx is done or Stop
func (p *RetentionPolicy) Start(ctx context.Context, interval time.Duration) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.mu.Unlock()

	go p.runCleanupLoop(ctx, interval, stopCh)
}

// Stop stops the cleanup loop
func (p *RetentionPolicy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	close(p.stopCh)
	p.running = false
}

func (p *RetentionPolicy) runCleanupLoop(ctx context.Context, interval time.Duration, stopCh chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := p.RunCleanup(ctx); err != nil {
		p.logger.Error("Initial retention cleanup failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := p.RunCleanup(ctx); err != nil {
				p.logger.Error("Retention cleanup failed", "error", err)
			}
		}
	}
}

// RunCleanup executes one cleanup cycle
func (p *RetentionPolicy) RunCleanup(ctx context.Context) (*RetentionStats, error) {
	stats := &RetentionStats{}

	days := p.days()
	if days <= 0 {
		return stats, nil
	}

	cutoff := p.now().Add(-time.Duration(days) * 24 * time.Hour)
	old, err := p.store.olderThan(ctx, cutoff)
	if err != nil {
		return stats, err
	}

	for _, snap := range old {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := p.store.Delete(ctx, snap); err != nil {
			p.logger.Warn("Failed to delete snapshot", "file", snap.FileName, "error", err)
			continue
		}
		stats.SnapshotsDeleted++
		stats.BytesFreed += snap.FileSize
	}

	if stats.SnapshotsDeleted > 0 {
		p.logger.Info("Retention cleanup completed",
			"snapshots_deleted", stats.SnapshotsDeleted,
			"bytes_freed", stats.BytesFreed,
		)
	}
	return stats, nil
}
