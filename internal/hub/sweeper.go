package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// StartSweeper runs Sweep every interval until the returned scheduler is
// shut down.
func (h *Hub) StartSweeper(interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			n, err := h.Sweep(context.Background())
			if err != nil {
				h.log.Error("sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				h.log.Info("expired rooms swept", zap.Int("count", n))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}

	sched.Start()
	return sched, nil
}
