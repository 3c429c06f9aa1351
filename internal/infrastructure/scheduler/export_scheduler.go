package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marketplace/payouts/internal/domain/payout"
	"go.uber.org/zap"
)

// cronTickerInterval is the interval at which the cron loop checks for execution
const cronTickerInterval = time.Minute

// ExportFunc uploads the reconciliation export of one period
type ExportFunc func(ctx context.Context, periodKey string) error

// ExportSchedulerConfig holds configuration for the daily export run
type ExportSchedulerConfig struct {
	Enabled bool
	// CronHour and CronMinute are wall-clock time in the payout time zone
	CronHour   int
	CronMinute int
	// JobTimeout bounds a single period export
	JobTimeout time.Duration
	// RetryAttempts is the total number of tries per period
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultExportSchedulerConfig runs at 02:00 with three tries per period
func DefaultExportSchedulerConfig() ExportSchedulerConfig {
	return ExportSchedulerConfig{
		Enabled:       true,
		CronHour:      2,
		CronMinute:    0,
		JobTimeout:    10 * time.Minute,
		RetryAttempts: 3,
		RetryDelay:    time.Minute,
	}
}

// ParseCronSchedule reads the minute and hour fields of "minute hour * * *".
// An empty expression yields 02:00.
func ParseCronSchedule(expr string) (hour, minute int, err error) {
	parts := strings.Fields(expr)
	if len(parts) == 0 {
		return 2, 0, nil
	}
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("%w: cron expression %q needs minute and hour", ErrInvalidConfig, expr)
	}

	minute, err = strconv.Atoi(parts[0])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute must be 0-59, got %q", ErrInvalidConfig, parts[0])
	}
	hour, err = strconv.Atoi(parts[1])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour must be 0-23, got %q", ErrInvalidConfig, parts[1])
	}
	return hour, minute, nil
}

// PeriodsDue returns the periods that closed since the previous daily run:
// yesterday, plus last month on the first day of a month.
func PeriodsDue(now time.Time, loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	yesterday := now.AddDate(0, 0, -1)

	keys := []string{payout.PeriodOf(payout.GranularityDay, yesterday, loc).Key}
	if now.Day() == 1 {
		keys = append(keys, payout.PeriodOf(payout.GranularityMonth, yesterday, loc).Key)
	}
	return keys
}

// ExportScheduler uploads the reconciliation CSV of every period that closed
// overnight, once a day.
type ExportScheduler struct {
	config ExportSchedulerConfig
	export ExportFunc
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool

	lastRunDate string
	lastRunAt   *time.Time
	nextRunAt   *time.Time
}

// NewExportScheduler creates a scheduler calling export for each due period
func NewExportScheduler(config ExportSchedulerConfig, export ExportFunc, loc *time.Location, logger *zap.Logger) *ExportScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if config.RetryAttempts < 1 {
		config.RetryAttempts = 1
	}
	return &ExportScheduler{
		config: config,
		export: export,
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// Start launches the cron loop. It is a no-op when disabled or already running.
func (s *ExportScheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Export scheduler disabled")
		return nil
	}

	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.calculateNextRunTime()

	s.wg.Add(1)
	go s.cronLoop(ctx)

	s.logger.Info("Export scheduler started",
		zap.Int("cron_hour", s.config.CronHour),
		zap.Int("cron_minute", s.config.CronMinute),
		zap.String("timezone", s.loc.String()),
		zap.Timep("next_run_at", s.NextRunAt()),
	)
	return nil
}

// Stop cancels the loop and waits for an in-flight run or ctx expiry
func (s *ExportScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Export scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Export scheduler stop timed out")
		return ctx.Err()
	}
}

func (s *ExportScheduler) cronLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(cronTickerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			if s.shouldRun(now) {
				_ = s.runAt(ctx, now)
				s.calculateNextRunTime()
			}
		}
	}
}

// shouldRun reports whether now is the scheduled minute of a day not yet run
func (s *ExportScheduler) shouldRun(now time.Time) bool {
	now = now.In(s.loc)
	if now.Hour() != s.config.CronHour || now.Minute() != s.config.CronMinute {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunDate != now.Format(time.DateOnly)
}

func (s *ExportScheduler) calculateNextRunTime() {
	now := s.now().In(s.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), s.config.CronHour, s.config.CronMinute, 0, 0, s.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	s.mu.Lock()
	s.nextRunAt = &next
	s.mu.Unlock()
}

// RunNow exports the periods due at the current time. Failures are joined.
func (s *ExportScheduler) RunNow(ctx context.Context) error {
	s.mu.Lock()
	running := s.isRunning
	s.mu.Unlock()
	if !running {
		return ErrSchedulerNotRunning
	}
	return s.runAt(ctx, s.now())
}

func (s *ExportScheduler) runAt(ctx context.Context, now time.Time) error {
	local := now.In(s.loc)
	s.mu.Lock()
	s.lastRunDate = local.Format(time.DateOnly)
	s.lastRunAt = &local
	s.mu.Unlock()

	keys := PeriodsDue(now, s.loc)
	s.logger.Info("Starting scheduled reconciliation export", zap.Strings("periods", keys))

	var errs []error
	for _, key := range keys {
		if err := s.exportWithRetry(ctx, key); err != nil {
			s.logger.Error("Scheduled export failed", zap.String("period", key), zap.Error(err))
			errs = append(errs, fmt.Errorf("export %s: %w", key, err))
			continue
		}
		s.logger.Info("Scheduled export completed", zap.String("period", key))
	}
	return errors.Join(errs...)
}

func (s *ExportScheduler) exportWithRetry(ctx context.Context, key string) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.config.RetryDelay), uint64(s.config.RetryAttempts-1)),
		ctx,
	)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		jobCtx := ctx
		if s.config.JobTimeout > 0 {
			var cancel context.CancelFunc
			jobCtx, cancel = context.WithTimeout(ctx, s.config.JobTimeout)
			defer cancel()
		}
		return s.export(jobCtx, key)
	}, policy, func(err error, wait time.Duration) {
		s.logger.Warn("Scheduled export attempt failed",
			zap.String("period", key),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	})
}

// NextRunAt returns when the next scheduled run will occur
func (s *ExportScheduler) NextRunAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunAt
}

// LastRunAt returns when the last run started
func (s *ExportScheduler) LastRunAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunAt
}
