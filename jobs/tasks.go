package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries reservation expiries, which release held stock.
	QueueCritical = "critical"

	// TaskReservationExpire releases an EC reservation whose payment window elapsed.
	TaskReservationExpire = "ledger:reservation_expire"
	// TaskReconcile replays the ledger of one store, or every store, and flags drift.
	TaskReconcile = "ledger:reconcile"
	// TaskIdempotencyCleanup purges idempotency keys past retention.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// ReservationExpirePayload identifies the reservation to release.
type ReservationExpirePayload struct {
	StoreID int64  `json:"store_id"`
	OrderID string `json:"order_id"`
}

// NewReservationExpireTask constructs the expiry task. It is deduplicated per reservation
// and processed at the reservation deadline.
func NewReservationExpireTask(storeID int64, orderID string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReservationExpirePayload{StoreID: storeID, OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationExpire, body,
		asynq.Queue(QueueCritical),
		asynq.TaskID(reservationTaskID(storeID, orderID)),
		asynq.ProcessAt(at),
		asynq.MaxRetry(10),
	), nil
}

// ReconcilePayload scopes a reconciliation run. StoreID zero means every store.
type ReconcilePayload struct {
	StoreID int64 `json:"store_id"`
}

// NewReconcileTask constructs the reconciliation task.
func NewReconcileTask(storeID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{StoreID: storeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

func reservationTaskID(storeID int64, orderID string) string {
	return "reservation:" + formatInt(storeID) + ":" + orderID
}
