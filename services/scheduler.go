// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartCommissionScheduler runs the two periodic sweeps: monthly-bonus
// accrual and pending-commission resolution. Each run is a bounded pass over
// the store; a failed run is logged and retried on the next tick.
func (s *CommissionService) StartCommissionScheduler(ctx context.Context) {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Daily: accrue the next due monthly commission per referred client.
	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			created, err := s.AccrueMonthlyCycles(ctx, time.Now())
			if err != nil {
				log.Printf("[Scheduler] monthly accrual failed: %v", err)
				return
			}
			if created > 0 {
				log.Printf("✅ [Scheduler] accrued %d monthly commission(s)", created)
			}
		}),
	)

	// Hourly: promote or cancel pending commissions.
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Hour),
		gocron.NewTask(func() {
			if _, _, err := s.ResolvePending(ctx, time.Now()); err != nil {
				log.Printf("[Scheduler] pending sweep failed: %v", err)
			}
		}),
	)

	go func() {
		<-ctx.Done()
		_ = sched.Shutdown()
	}()
}
