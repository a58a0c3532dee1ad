package budget

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/conduit/internal/usage"
)

// DefaultResetSchedule starts a new budget window on the first of each month.
const DefaultResetSchedule = "@monthly"

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ParseSchedule validates a reset expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = DefaultResetSchedule
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid reset schedule: %w", err)
	}
	return schedule, nil
}

// Resetter clears the tracker's budget window on a cron schedule.
type Resetter struct {
	cron    *cron.Cron
	tracker *usage.Tracker
	logger  *slog.Logger
}

// NewResetter schedules window resets. Timezone defaults to UTC.
func NewResetter(tracker *usage.Tracker, expr, timezone string, logger *slog.Logger) (*Resetter, error) {
	if tracker == nil {
		return nil, fmt.Errorf("usage tracker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc := time.UTC
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		loc = l
	}
	schedule, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	r := &Resetter{
		cron:    cron.New(cron.WithParser(cronParser), cron.WithLocation(loc)),
		tracker: tracker,
		logger:  logger.With("component", "budget"),
	}
	r.cron.Schedule(schedule, cron.FuncJob(r.reset))
	return r, nil
}

func (r *Resetter) reset() {
	started := r.tracker.WindowStart()
	r.tracker.ResetWindow()
	r.logger.Info("budget window reset", "previous_window_start", started)
}

// Start runs the scheduler in the background.
func (r *Resetter) Start() {
	r.cron.Start()
}

// Stop halts the scheduler and waits for a running reset to finish.
func (r *Resetter) Stop() {
	<-r.cron.Stop().Done()
}

// Next returns the next scheduled reset.
func (r *Resetter) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now())
}
