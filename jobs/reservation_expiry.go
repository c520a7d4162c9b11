package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cardpos/stockledger/internal/jobs"
	"github.com/cardpos/stockledger/internal/ledger"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReservationExpirer releases a pending reservation.
type ReservationExpirer interface {
	ExpireReservation(ctx context.Context, storeID int64, orderID string) (bool, error)
}

// ReservationExpiryJob returns held stock once an EC order's payment window elapses.
type ReservationExpiryJob struct {
	Ledger  ReservationExpirer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReservationExpiryJob wires dependencies for the expiry handler.
func NewReservationExpiryJob(expirer ReservationExpirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationExpiryJob {
	return &ReservationExpiryJob{Ledger: expirer, Logger: logger, Metrics: metrics}
}

// Handle processes TaskReservationExpire tasks.
func (j *ReservationExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("reservation expiry: handler not configured")
	}
	var payload ReservationExpirePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.StoreID <= 0 || payload.OrderID == "" {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskReservationExpire)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.log().With(slog.Int64("store_id", payload.StoreID), slog.String("order_id", payload.OrderID))
	released, err := j.Ledger.ExpireReservation(ctx, payload.StoreID, payload.OrderID)
	switch {
	case errors.Is(err, ledger.ErrReservationNotFound):
		logger.Warn("reservation vanished before expiry")
		return asynq.SkipRetry
	case err != nil:
		resultErr = err
		logger.Error("expire reservation", slog.Any("error", err))
		return resultErr
	case released:
		logger.Info("reservation released after payment timeout")
	default:
		logger.Debug("reservation already closed")
	}
	return resultErr
}

func (j *ReservationExpiryJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReservationExpiryJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReservationExpire))
	}
	return slog.Default().With(slog.String("job", TaskReservationExpire))
}
