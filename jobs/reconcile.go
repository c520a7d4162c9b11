package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/cardpos/stockledger/internal/jobs"
	"github.com/cardpos/stockledger/internal/ledger"
	"github.com/cardpos/stockledger/internal/shared"
)

const defaultReconcileLockTTL = 30 * time.Minute

// Reconciler replays a store's ledger and returns the inconsistent products.
type Reconciler interface {
	Reconcile(ctx context.Context, storeID int64) ([]ledger.ReplayReport, error)
}

// StoreLister enumerates stores with live products.
type StoreLister interface {
	ListStoreIDs(ctx context.Context) ([]int64, error)
}

// ReconcileJob checks ledger, on-hand quantity and open lots against each other.
type ReconcileJob struct {
	Ledger  Reconciler
	Stores  StoreLister
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
	clock   func() time.Time
}

// NewReconcileJob constructs the reconciliation handler.
func NewReconcileJob(reconciler Reconciler, stores StoreLister, rdb *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Ledger:  reconciler,
		Stores:  stores,
		Redis:   rdb,
		Logger:  logger,
		Metrics: metrics,
		LockTTL: defaultReconcileLockTTL,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes TaskReconcile.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Ledger == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskReconcile)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	stores, err := j.resolveStores(ctx, payload.StoreID)
	if err != nil {
		resultErr = err
		j.log().Error("resolve stores", slog.Any("error", err))
		return resultErr
	}

	start := j.now()
	issues := 0
	for _, storeID := range stores {
		n, err := j.reconcileStore(ctx, storeID)
		if err != nil {
			resultErr = err
			j.log().Error("reconcile store", slog.Int64("store_id", storeID), slog.Any("error", err))
			return resultErr
		}
		issues += n
	}
	j.log().Info("completed reconciliation",
		slog.Int("stores", len(stores)),
		slog.Int("discrepancies", issues),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ReconcileJob) reconcileStore(ctx context.Context, storeID int64) (int, error) {
	release, ok, err := j.lock(ctx, storeID)
	if err != nil {
		return 0, err
	}
	if !ok {
		j.log().Info("reconciliation already running", slog.Int64("store_id", storeID))
		return 0, nil
	}
	defer release()
	reports, err := j.Ledger.Reconcile(ctx, storeID)
	if err != nil {
		return 0, err
	}
	return len(reports), nil
}

// lock takes the per-store run lock. Without Redis every run proceeds.
func (j *ReconcileJob) lock(ctx context.Context, storeID int64) (func(), bool, error) {
	if j.Redis == nil {
		return func() {}, true, nil
	}
	key := shared.ReconcileLockKey(storeID)
	ttl := j.LockTTL
	if ttl <= 0 {
		ttl = defaultReconcileLockTTL
	}
	ok, err := j.Redis.SetNX(ctx, key, j.now().Format(time.RFC3339), ttl).Result()
	if err != nil || !ok {
		return nil, ok, err
	}
	return func() {
		if err := j.Redis.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
			j.log().Warn("release reconcile lock", slog.Int64("store_id", storeID), slog.Any("error", err))
		}
	}, true, nil
}

func (j *ReconcileJob) resolveStores(ctx context.Context, storeID int64) ([]int64, error) {
	if storeID > 0 {
		return []int64{storeID}, nil
	}
	if j.Stores == nil {
		return nil, errors.New("reconcile: store lister not configured")
	}
	return j.Stores.ListStoreIDs(ctx)
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcile))
	}
	return slog.Default().With(slog.String("job", TaskReconcile))
}

func (j *ReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ReconcileJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
