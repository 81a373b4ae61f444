// Package scheduler provides unified scheduler management using gocron v2.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/veevpn/panel/internal/shared/biztime"
	"github.com/veevpn/panel/internal/shared/logger"
)

// BatchJob defines the interface for a scheduled batch processing job.
// Each Execute call processes a batch and returns the number of items processed.
type BatchJob interface {
	Execute(ctx context.Context) (int, error)
}

// SchedulerManager manages all scheduled jobs using gocron v2: traffic
// polling, expiry sweeps, and notification sweeps all run off the same
// scheduler instance so tests can assert on a single set of registered jobs.
type SchedulerManager struct {
	scheduler gocron.Scheduler
	logger    logger.Interface

	started   bool
	startedMu sync.RWMutex
}

// NewSchedulerManager creates a new SchedulerManager instance.
// It initializes gocron with the business timezone for cron expressions.
func NewSchedulerManager(log logger.Interface) (*SchedulerManager, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(biztime.Location()),
	)
	if err != nil {
		return nil, err
	}

	return &SchedulerManager{
		scheduler: scheduler,
		logger:    log,
	}, nil
}

// ========================================
// Traffic Monitor Job (C6)
// ========================================

// TrafficMonitor polls every backend server for traffic usage and applies
// the over-limit/notify-once policy.
type TrafficMonitor interface {
	PollAll(ctx context.Context) (int, error)
}

// RegisterTrafficMonitorJob registers the periodic traffic poll.
func (m *SchedulerManager) RegisterTrafficMonitorJob(monitor TrafficMonitor, interval time.Duration) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			m.pollTraffic(ctx, monitor)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("traffic", "monitor"),
		gocron.WithName("traffic-monitor"),
	)
	if err != nil {
		return err
	}

	m.logger.Infow("registered traffic monitor job", "interval", interval.String())
	return nil
}

func (m *SchedulerManager) pollTraffic(ctx context.Context, monitor TrafficMonitor) {
	m.logger.Debugw("traffic poll started")

	start := biztime.NowUTC()
	polled, err := monitor.PollAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Errorw("traffic poll failed", "error", err, "duration", time.Since(start))
		return
	}

	m.logger.Infow("traffic poll completed", "servers_polled", polled, "duration", time.Since(start))
}

// ========================================
// Expiry Sweep Job (C9)
// ========================================

// ExpirySweeper deactivates subscriptions that have passed expiry, applying
// the expiry package's fixed 24-hour grace period (the
// scheduler.expiry_grace_minutes setting is not read), and fans out key
// revocation to backends.
type ExpirySweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// RegisterExpirySweepJob registers the periodic expiry sweep.
func (m *SchedulerManager) RegisterExpirySweepJob(sweeper ExpirySweeper, interval time.Duration) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			m.sweepExpired(ctx, sweeper)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("subscription", "expiry"),
		gocron.WithName("expiry-sweep"),
	)
	if err != nil {
		return err
	}

	m.logger.Infow("registered expiry sweep job", "interval", interval.String())
	return nil
}

func (m *SchedulerManager) sweepExpired(ctx context.Context, sweeper ExpirySweeper) {
	m.logger.Debugw("expiry sweep started")

	start := biztime.NowUTC()
	expired, err := sweeper.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Errorw("expiry sweep failed", "error", err, "duration", time.Since(start))
		return
	}

	if expired > 0 {
		m.logger.Infow("expiry sweep completed", "expired_count", expired, "duration", time.Since(start))
	} else {
		m.logger.Debugw("expiry sweep completed, nothing expired", "duration", time.Since(start))
	}
}

// ========================================
// Notification Sweep Job (C9)
// ========================================

// NotificationSweeper sends expiry-threshold and purchase notifications.
type NotificationSweeper interface {
	SweepNotifications(ctx context.Context) (int, error)
}

// RegisterNotificationSweepJob registers the periodic notification sweep.
func (m *SchedulerManager) RegisterNotificationSweepJob(sweeper NotificationSweeper, interval time.Duration) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			m.sweepNotifications(ctx, sweeper)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags("subscription", "notification"),
		gocron.WithName("notification-sweep"),
	)
	if err != nil {
		return err
	}

	m.logger.Infow("registered notification sweep job", "interval", interval.String())
	return nil
}

func (m *SchedulerManager) sweepNotifications(ctx context.Context, sweeper NotificationSweeper) {
	m.logger.Debugw("notification sweep started")

	sent, err := sweeper.SweepNotifications(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Errorw("notification sweep failed", "error", err)
		return
	}

	if sent > 0 {
		m.logger.Infow("notification sweep completed", "notifications_sent", sent)
	}
}

// ========================================
// Scheduler Lifecycle Methods
// ========================================

// Start starts the scheduler and all registered jobs.
func (m *SchedulerManager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if m.started {
		return
	}

	m.scheduler.Start()
	m.started = true
	m.logger.Infow("scheduler manager started", "job_count", len(m.scheduler.Jobs()))
}

// Stop gracefully stops the scheduler.
// It waits for all running jobs to complete before returning.
func (m *SchedulerManager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if !m.started {
		return nil
	}

	m.logger.Infow("stopping scheduler manager")

	err := m.scheduler.Shutdown()
	m.started = false

	if err != nil {
		m.logger.Errorw("scheduler manager shutdown with error", "error", err)
		return err
	}

	m.logger.Infow("scheduler manager stopped")
	return nil
}

// IsStarted returns whether the scheduler is running.
func (m *SchedulerManager) IsStarted() bool {
	m.startedMu.RLock()
	defer m.startedMu.RUnlock()
	return m.started
}

// Jobs returns all registered jobs for inspection.
func (m *SchedulerManager) Jobs() []gocron.Job {
	return m.scheduler.Jobs()
}
