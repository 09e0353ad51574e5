package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// PurgeExpired removes every record whose expiry has passed and returns the
// number of records removed. Reads already reap expired records lazily; this
// is an opt-in eager sweep. It never opens a transaction itself: the delete
// joins one that is already open and commits on its own otherwise.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	result, err := s.db.Conn.ExecContext(ctx,
		`DELETE FROM `+s.table+` WHERE expiry IS NOT NULL AND expiry < ?`, s.nowMillis())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired entries: %w", err)
	}

	return result.RowsAffected()
}

// StartSweeper starts a goroutine that calls PurgeExpired every interval
// until ctx is cancelled, StopSweeper is called or the store is closed.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepStop != nil || interval <= 0 {
		return
	}

	stop := make(chan struct{})
	stopped := make(chan struct{})
	s.sweepStop = stop
	s.sweepStopped = stopped

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()

	log.Debug().Dur("interval", interval).Msg("Started KV sweeper")
}

// StopSweeper stops the sweeper goroutine and waits for it to exit.
func (s *Store) StopSweeper() {
	s.mu.Lock()
	stop, stopped := s.sweepStop, s.sweepStopped
	s.sweepStop, s.sweepStopped = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-stopped
	log.Debug().Msg("Stopped KV sweeper")
}

func (s *Store) sweep(ctx context.Context) {
	count, err := s.PurgeExpired(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to purge expired KV entries")
		return
	}
	if count > 0 {
		log.Debug().Int64("count", count).Msg("Purged expired KV entries")
	}
}
