package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/backoffice/internal/cashbook"
	jobmetrics "github.com/odyssey-erp/backoffice/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LedgerWarmer loads a window's ledger sources into the cache.
type LedgerWarmer interface {
	Warm(ctx context.Context, w cashbook.Window) error
}

// CashbookWarmupJob pre-populates the cash ledger cache.
type CashbookWarmupJob struct {
	Warmer  LedgerWarmer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCashbookWarmupJob wires dependencies for the warmup handler.
func NewCashbookWarmupJob(warmer LedgerWarmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CashbookWarmupJob {
	return &CashbookWarmupJob{
		Warmer:  warmer,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes cashbook warmup tasks.
func (j *CashbookWarmupJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Warmer == nil {
		return errors.New("cashbook warmup: handler not configured")
	}
	var payload CashbookWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	window, err := cashbook.ParseWindow(payload.From, payload.To, j.now())
	if err != nil {
		j.logger().Warn("invalid warmup window", slog.Any("error", err))
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCashbookWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("window", window.Key()))
	started := time.Now()
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := j.Warmer.Warm(warmCtx, window); err != nil {
		logger.Error("warm cash ledger", slog.Any("error", err))
		return err
	}
	logger.Info("completed cashbook warmup", slog.Duration("duration", time.Since(started)))
	return nil
}

func (j *CashbookWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskCashbookWarmup))
	}
	return slog.Default().With(slog.String("job", TaskCashbookWarmup))
}

func (j *CashbookWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CashbookWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
