package claims

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartSweeper runs ExpireSweep on a fixed interval until the returned
// scheduler is shut down.
func (s *Service) StartSweeper(interval time.Duration) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			s.ExpireSweep(ctx)
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	log.Printf("claims: expiry sweeper running every %s", interval)
	return sched, nil
}
