package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BatchRunner is the part of Sweeper the scheduler drives.
type BatchRunner interface {
	Run(ctx context.Context) (*Report, error)
}

// StartScheduler launches a background goroutine running a batch sweep every interval
// until ctx is cancelled. It is best-effort and logs failures. A zero interval disables it.
func StartScheduler(ctx context.Context, runner BatchRunner, interval time.Duration, log *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 || runner == nil {
		close(done)
		return done
	}
	if log == nil {
		log = zap.NewNop()
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			// wait first to avoid racing the HTTP server at startup
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			report, err := runner.Run(ctx)
			if err != nil {
				log.Error("scheduled sweep failed", zap.Error(err))
				continue
			}
			log.Info("scheduled sweep",
				zap.Int("sent", report.Sent),
				zap.Int("failed", report.Failed),
				zap.Int("skipped", report.Skipped),
			)
		}
	}()
	return done
}
