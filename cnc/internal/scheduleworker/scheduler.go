// Package scheduleworker evaluates wake schedules and dispatches the wake
// commands they produce. It wraps gocron with a single recurring job, ticking
// on a fixed poll interval rather than one gocron job per schedule: schedules
// are data rows that change through the API at any time, and re-deriving a
// gocron job per row on every mutation is more machinery than a poll loop
// needs for this cardinality.
package scheduleworker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/woly-io/woly/cnc/internal/command"
	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/hostagg"
	"github.com/woly-io/woly/cnc/internal/nodemanager"
	"github.com/woly-io/woly/cnc/internal/repositories"
	"github.com/woly-io/woly/shared/protocol"
	"github.com/woly-io/woly/shared/types"
)

// Config holds the schedule worker's tunables.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Worker polls for due wake schedules and dispatches a wake command for each,
// through the same durable command router used by the HTTP API.
type Worker struct {
	cron  gocron.Scheduler
	cfg   Config
	repo  repositories.WakeScheduleRepository
	hosts *hostagg.Aggregator
	nodes *nodemanager.Manager
	cmds  *command.Router

	logger *zap.Logger
}

// New creates a Worker. Call Start to begin polling.
func New(
	cfg Config,
	repo repositories.WakeScheduleRepository,
	hosts *hostagg.Aggregator,
	nodes *nodemanager.Manager,
	cmds *command.Router,
	logger *zap.Logger,
) (*Worker, error) {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduleworker: create gocron scheduler: %w", err)
	}

	return &Worker{
		cron:   cron,
		cfg:    cfg,
		repo:   repo,
		hosts:  hosts,
		nodes:  nodes,
		cmds:   cmds,
		logger: logger.Named("scheduleworker"),
	}, nil
}

// Start registers the poll job in singleton mode (an overrunning tick is
// skipped rather than stacked) and starts the underlying gocron scheduler.
func (w *Worker) Start(ctx context.Context) error {
	_, err := w.cron.NewJob(
		gocron.DurationJob(w.cfg.PollInterval),
		gocron.NewTask(func() { w.tick(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduleworker: register poll job: %w", err)
	}
	w.cron.Start()
	w.logger.Info("schedule worker started", zap.Duration("pollInterval", w.cfg.PollInterval), zap.Int("batchSize", w.cfg.BatchSize))
	return nil
}

// Stop gracefully shuts down the poll loop.
func (w *Worker) Stop() error {
	if err := w.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduleworker: shutdown: %w", err)
	}
	return nil
}

func (w *Worker) tick(ctx context.Context) {
	now := time.Now()
	due, err := w.repo.ListDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("failed to list due schedules", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	w.logger.Info("dispatching due wake schedules", zap.Int("count", len(due)))
	for i := range due {
		w.fire(ctx, &due[i])
	}
}

func (w *Worker) fire(ctx context.Context, s *db.WakeSchedule) {
	log := w.logger.With(zap.String("scheduleId", s.ID.String()), zap.String("hostFqn", s.HostFQN))

	host, ok := w.hosts.Get(s.HostFQN)
	if !ok {
		log.Warn("schedule host not found in projection, skipping fire")
		return
	}

	node, err := w.nodes.GetByLocation(ctx, host.Location)
	if err != nil {
		log.Warn("schedule host's node not found, skipping fire", zap.Error(err))
		return
	}

	triggerEpoch := s.NextTrigger.Unix()
	idempotencyKey := s.ID.String() + ":" + strconv.FormatInt(triggerEpoch, 10)

	_, err = w.cmds.Enqueue(ctx, node.ID, types.CommandWake, protocol.WakeData{
		HostName: host.Name,
		MAC:      host.MAC,
	}, idempotencyKey)
	if err != nil {
		log.Error("failed to enqueue scheduled wake command", zap.Error(err))
		return
	}

	triggeredAt := time.Now()
	next, err := ComputeNextTrigger(s, &triggeredAt)
	if err != nil {
		log.Error("failed to compute next trigger", zap.Error(err))
		next = nil
	}

	if types.ScheduleFrequency(s.Frequency) == types.FrequencyOnce {
		next = nil
	}

	if err := w.repo.MarkTriggered(ctx, s.ID, triggeredAt, next); err != nil {
		log.Error("failed to mark schedule triggered", zap.Error(err))
	}
}

// ComputeNextTrigger derives a schedule's next firing time from its
// scheduledTime ("HH:MM"), frequency, and timezone. after, when non-nil, is
// the reference point for recurring schedules (normally the time the
// previous fire completed); nil means "the next occurrence from now",
// used when a schedule is first created or edited.
func ComputeNextTrigger(s *db.WakeSchedule, after *time.Time) (*time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}

	hhmm, err := time.Parse("15:04", s.ScheduledTime)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduledTime %q: must be HH:MM", s.ScheduledTime)
	}

	base := time.Now().In(loc)
	if after != nil {
		base = after.In(loc)
	}

	freq := types.ScheduleFrequency(s.Frequency)

	// Weekly recurrence anchors to exactly 7 days after the prior fire rather
	// than the next occurrence of the time-of-day, so a schedule set for
	// "every Tuesday" does not drift onto other weekdays.
	if freq == types.FrequencyWeekly && after != nil {
		next := time.Date(base.Year(), base.Month(), base.Day(), hhmm.Hour(), hhmm.Minute(), 0, 0, loc).AddDate(0, 0, 7)
		return &next, nil
	}

	candidate := time.Date(base.Year(), base.Month(), base.Day(), hhmm.Hour(), hhmm.Minute(), 0, 0, loc)
	if !candidate.After(base) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	switch freq {
	case types.FrequencyOnce, types.FrequencyDaily, types.FrequencyWeekly:
		// Initial computation for all three is "the next occurrence of this
		// time of day"; weekly's 7-day cadence only applies on recompute.
	case types.FrequencyWeekdays:
		for candidate.Weekday() == time.Saturday || candidate.Weekday() == time.Sunday {
			candidate = candidate.AddDate(0, 0, 1)
		}
	case types.FrequencyWeekends:
		for candidate.Weekday() != time.Saturday && candidate.Weekday() != time.Sunday {
			candidate = candidate.AddDate(0, 0, 1)
		}
	default:
		return nil, fmt.Errorf("unknown frequency %q", s.Frequency)
	}

	return &candidate, nil
}
