package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/veilnet/realityd/internal/config"
	"github.com/veilnet/realityd/internal/database"
	"github.com/veilnet/realityd/internal/rotation"
	"gorm.io/gorm"
)

// startRotationCron schedules periodic rotation checks. The cron spec
// controls how often the check runs; whether a rotation is actually due is
// decided by the rotation_interval_days setting, so operators can change
// the policy without restarting the daemon.
func startRotationCron(coord *rotation.Coordinator) *cron.Cron {
	if config.Cfg.RotationSchedule == "" {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(config.Cfg.RotationSchedule, func() {
		checkScheduledRotation(context.Background(), coord)
	})
	if err != nil {
		log.Printf("WARNING: invalid rotation schedule %q: %v", config.Cfg.RotationSchedule, err)
		return nil
	}
	c.Start()
	log.Printf("Scheduled rotation check registered (%s)", config.Cfg.RotationSchedule)
	return c
}

// checkScheduledRotation rotates when the active credential set is older
// than the configured interval. Interval 0 disables scheduled rotation.
func checkScheduledRotation(ctx context.Context, coord *rotation.Coordinator) {
	intervalStr, err := database.GetSetting("rotation_interval_days")
	if err != nil {
		log.Printf("rotation job: failed to read interval: %v", err)
		return
	}
	intervalDays, err := strconv.Atoi(intervalStr)
	if err != nil || intervalDays <= 0 {
		return // scheduled rotation disabled
	}

	lastStr, err := database.GetSetting("last_rotation")
	if err != nil && err != gorm.ErrRecordNotFound {
		log.Printf("rotation job: failed to read last rotation: %v", err)
		return
	}

	var last time.Time
	if lastStr != "" {
		last, err = time.Parse(time.RFC3339, lastStr)
		if err != nil {
			log.Printf("rotation job: invalid last_rotation %q, treating as never rotated", lastStr)
		}
	}
	// Zero last means never rotated, which is older than any interval.

	if time.Since(last) < time.Duration(intervalDays)*24*time.Hour {
		return // not due yet
	}

	log.Printf("rotation job: credential set older than %d days, starting scheduled rotation", intervalDays)

	result, err := coord.Rotate(ctx, rotation.TriggerScheduled)
	if err != nil {
		log.Printf("rotation job: scheduled rotation failed: %v", err)
		return
	}

	if result.ApplyFailed {
		log.Printf("rotation job: %s", rotation.ApplyFailedMessage)
	} else {
		log.Printf("rotation job: scheduled rotation complete (fallback=%v, partial_failures=%d)",
			result.UsedFallback, len(result.PartialFailures))
	}
}
