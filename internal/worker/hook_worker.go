package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"rentalcore/internal/config"
	"rentalcore/internal/domain"
	"rentalcore/internal/metrics"
	"rentalcore/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskReleaseCar       = "release_car"
	TaskReleaseDriver    = "release_driver"
	TaskGenerateDocument = "generate_document"
	TaskNotify           = "notify"
	TaskLedgerAppend     = "ledger_append"
)

const (
	KindSettlement = "settlement"
	KindRefund     = "refund"
)

// HookPayload is stored as JSON in HookTask.Payload.
type HookPayload struct {
	BookingID int64  `json:"booking_id"`
	CarID     int64  `json:"car_id,omitempty"`
	DriverID  int64  `json:"driver_id,omitempty"`
	Kind      string `json:"kind"`
}

// Executors are the side effects a hook task can trigger. Any of them may be
// nil; tasks that need a missing executor fail without retry.
type Executors struct {
	Fleet     domain.FleetReleaser
	Drivers   domain.DriverReleaser
	Documents domain.DocumentGenerator
	Notifier  domain.Notifier
	Ledger    domain.LedgerWriter
}

// errPermanent marks failures that retrying cannot fix.
var errPermanent = errors.New("permanent hook failure")

// HookWorker persists hook tasks and runs them with retries. Tasks reach it
// through an in-process channel, a Redis list, and finally a poll of the store.
type HookWorker struct {
	store         domain.HookStore
	bookings      domain.BookingRepository
	exec          Executors
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.HookTask
	queueKey      string
	deadLetterKey string
	pollInterval  time.Duration
	staleAfter    time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewHookWorker builds a worker. A nil redis client disables the Redis path.
func NewHookWorker(store domain.HookStore, bookings domain.BookingRepository, exec Executors, redisClient *redis.Client, cfg config.HooksConfig, logger *zerolog.Logger) *HookWorker {
	retry := RetryPolicyFromConfig(cfg)
	if retry.MaxRetries <= 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 5 * time.Minute
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	queueKey := cfg.QueueKey
	if queueKey == "" {
		queueKey = "rentalcore:hooks"
	}
	deadLetterKey := cfg.DeadLetterKey
	if deadLetterKey == "" {
		deadLetterKey = queueKey + ":dead"
	}

	var queue chan models.HookTask
	if cfg.LocalBufferSize > 0 {
		queue = make(chan models.HookTask, cfg.LocalBufferSize)
	}

	return &HookWorker{
		store:         store,
		bookings:      bookings,
		exec:          exec,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         queue,
		queueKey:      queueKey,
		deadLetterKey: deadLetterKey,
		pollInterval:  pollInterval,
		staleAfter:    10 * time.Minute,
		batchSize:     20,
		logger:        logger,
	}
}

// EnqueueTask persists the task, then hands it to Redis or the local channel.
// Tasks that fit neither are still picked up by the store poll.
func (w *HookWorker) EnqueueTask(ctx context.Context, taskType string, bookingID int64, payload interface{}) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if bookingID == 0 {
		return errors.New("booking id is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.HookTask{
		TaskType:  taskType,
		BookingID: bookingID,
		Payload:   string(raw),
		Status:    models.HookStatusPending,
	}
	if err := w.store.CreateHookTask(ctx, &task); err != nil {
		return fmt.Errorf("persist hook task: %w", err)
	}

	if w.redis != nil {
		err := w.pushRedis(ctx, w.queueKey, task)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, falling back to local queue")
	}

	if w.queue != nil {
		select {
		case w.queue <- task:
		default:
			w.logger.Warn().Int64("task_id", task.ID).Msg("local hook queue full, task left to polling")
		}
	}
	return nil
}

// Start runs concurrency consumer loops until ctx is done.
func (w *HookWorker) Start(ctx context.Context, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	w.logger.Info().Int("workers", concurrency).Msg("hook worker started")
	defer w.logger.Info().Msg("hook worker stopped")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *HookWorker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		n, err := w.pollOnce(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending hook tasks")
		}
		if err != nil || n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// pollOnce processes one batch of due tasks from the store.
func (w *HookWorker) pollOnce(ctx context.Context) (int, error) {
	tasks, err := w.store.GetPendingHookTasks(ctx, w.batchSize, w.staleAfter)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks), nil
}

func (w *HookWorker) tryLocalQueue() (models.HookTask, bool) {
	if w.queue == nil {
		return models.HookTask{}, false
	}
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.HookTask{}, false
	}
}

func (w *HookWorker) tryRedis(ctx context.Context) (models.HookTask, bool) {
	if w.redis == nil {
		return models.HookTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.queueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Warn().Err(err).Msg("redis BRPOP failed")
		}
		return models.HookTask{}, false
	}
	if len(res) != 2 {
		return models.HookTask{}, false
	}
	var task models.HookTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis hook task")
		return models.HookTask{}, false
	}
	return task, true
}

func (w *HookWorker) processTask(ctx context.Context, task *models.HookTask) {
	claimed, err := w.store.ClaimHookTask(ctx, task.ID, w.staleAfter)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("claim hook task")
		return
	}
	if !claimed {
		return
	}

	log := w.logger.With().Int64("task_id", task.ID).Str("task_type", task.TaskType).Int64("booking_id", task.BookingID).Logger()

	var payload HookPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.fail(ctx, task, fmt.Errorf("%w: decode payload: %v", errPermanent, err))
		return
	}
	if payload.BookingID == 0 {
		payload.BookingID = task.BookingID
	}

	if err := w.execute(ctx, task.TaskType, payload); err != nil {
		if errors.Is(err, errPermanent) {
			w.fail(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateHookTaskStatus(ctx, task.ID, models.HookStatusCompleted, "", nil); err != nil {
		log.Error().Err(err).Msg("mark hook task completed")
	}
	metrics.IncHookTask(task.TaskType, "completed")
	log.Debug().Msg("hook task completed")
}

func (w *HookWorker) execute(ctx context.Context, taskType string, p HookPayload) error {
	switch taskType {
	case TaskReleaseCar:
		if w.exec.Fleet == nil {
			return fmt.Errorf("%w: no fleet client", errPermanent)
		}
		return w.exec.Fleet.ReleaseCar(ctx, p.CarID)
	case TaskReleaseDriver:
		if w.exec.Drivers == nil {
			return fmt.Errorf("%w: no driver client", errPermanent)
		}
		return w.exec.Drivers.ReleaseDriver(ctx, p.DriverID)
	case TaskGenerateDocument, TaskNotify, TaskLedgerAppend:
		return w.executeForBooking(ctx, taskType, p)
	default:
		return fmt.Errorf("%w: unknown task type %q", errPermanent, taskType)
	}
}

func (w *HookWorker) executeForBooking(ctx context.Context, taskType string, p HookPayload) error {
	var (
		settlement func(context.Context, *models.Booking) error
		refund     func(context.Context, *models.Booking) error
	)
	switch taskType {
	case TaskGenerateDocument:
		if w.exec.Documents == nil {
			return fmt.Errorf("%w: no document generator", errPermanent)
		}
		settlement = func(ctx context.Context, b *models.Booking) error {
			path, err := w.exec.Documents.SettlementStatement(ctx, b)
			w.logger.Debug().Str("path", path).Int64("booking_id", b.ID).Msg("settlement statement written")
			return err
		}
		refund = func(ctx context.Context, b *models.Booking) error {
			path, err := w.exec.Documents.RefundStatement(ctx, b)
			w.logger.Debug().Str("path", path).Int64("booking_id", b.ID).Msg("refund statement written")
			return err
		}
	case TaskNotify:
		if w.exec.Notifier == nil {
			return fmt.Errorf("%w: no notifier", errPermanent)
		}
		settlement, refund = w.exec.Notifier.NotifySettlement, w.exec.Notifier.NotifyRefund
	case TaskLedgerAppend:
		if w.exec.Ledger == nil {
			return fmt.Errorf("%w: no ledger", errPermanent)
		}
		settlement, refund = w.exec.Ledger.UpsertSettlement, w.exec.Ledger.UpsertRefund
	}

	b, err := w.bookings.GetBooking(ctx, p.BookingID)
	if err != nil {
		return fmt.Errorf("load booking %d: %w", p.BookingID, err)
	}

	switch p.Kind {
	case KindSettlement:
		return settlement(ctx, b)
	case KindRefund:
		return refund(ctx, b)
	default:
		return fmt.Errorf("%w: unknown payload kind %q", errPermanent, p.Kind)
	}
}

func (w *HookWorker) retryOrFail(ctx context.Context, task *models.HookTask, cause error) {
	if w.retryPolicy.Exhausted(task.RetryCount) {
		w.fail(ctx, task, cause)
		return
	}

	next := time.Now().Add(w.retryPolicy.NextDelay(task.RetryCount + 1))
	if err := w.store.UpdateHookTaskStatus(ctx, task.ID, models.HookStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark hook task for retry")
	}
	metrics.IncHookTask(task.TaskType, "retry")
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Str("task_type", task.TaskType).
		Int("attempt", task.RetryCount+1).
		Time("next_retry_at", next).
		Msg("hook task failed, will retry")
}

func (w *HookWorker) fail(ctx context.Context, task *models.HookTask, cause error) {
	if err := w.store.UpdateHookTaskStatus(ctx, task.ID, models.HookStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark hook task failed")
	}
	metrics.IncHookTask(task.TaskType, "failed")
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("task_type", task.TaskType).Msg("hook task failed permanently")

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("dead letter push failed")
		}
	}
}

func (w *HookWorker) pushRedis(ctx context.Context, key string, task models.HookTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
