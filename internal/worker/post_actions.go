package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"seasonbook/internal/config"
	"seasonbook/internal/domain"
	"seasonbook/internal/metrics"
	"seasonbook/internal/models"
	"seasonbook/internal/workflow"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	redisQueueKey = "seasonbook:post_actions:queue"
	deadLetterKey = "seasonbook:post_actions:deadletter"
)

// Runner replays one queued post-action.
type Runner interface {
	RunPostAction(ctx context.Context, task models.PostActionTask) error
}

// PostActionWorker drains the post-action outbox. Tasks are persisted first; redis only
// shortens the path to the worker, and the database poll picks up anything redis missed.
// A task may run twice when both paths see it, so post-actions must tolerate repeats.
type PostActionWorker struct {
	domain.TaskQueue

	runner       Runner
	redis        *redis.Client
	retryPolicy  RetryPolicy
	limiter      *rate.Limiter
	pollInterval time.Duration
	batchSize    int
	logger       zerolog.Logger
}

func NewPostActionWorker(queue domain.TaskQueue, runner Runner, redisClient *redis.Client, cfg config.WorkerConfig, logger *zerolog.Logger) *PostActionWorker {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "post_action_worker").Logger()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &PostActionWorker{
		TaskQueue:    queue,
		runner:       runner,
		redis:        redisClient,
		retryPolicy:  PolicyFromConfig(cfg),
		limiter:      rate.NewLimiter(limit, 1),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		logger:       l,
	}
}

// CreatePostActionTask persists the task and hands it to redis when available.
func (w *PostActionWorker) CreatePostActionTask(ctx context.Context, task *models.PostActionTask) error {
	if task.Action == "" {
		return errors.New("task action is required")
	}
	if task.BookingID == 0 {
		return errors.New("booking id is required")
	}
	if err := w.TaskQueue.CreatePostActionTask(ctx, task); err != nil {
		return fmt.Errorf("persist post-action task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, task left to polling")
		}
	}
	return nil
}

// Start runs until ctx is done.
func (w *PostActionWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("post-action worker started")
	defer w.logger.Info().Msg("post-action worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if task, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &task)
			continue
		}

		n, err := w.ProcessPending(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending post-actions failed")
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// ProcessPending handles one batch of due tasks and returns how many were attempted.
func (w *PostActionWorker) ProcessPending(ctx context.Context) (int, error) {
	tasks, err := w.GetPendingPostActionTasks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks), nil
}

func (w *PostActionWorker) tryRedis(ctx context.Context) (models.PostActionTask, bool) {
	if w.redis == nil {
		return models.PostActionTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			w.logger.Warn().Err(err).Msg("redis BRPOP failed")
		}
		return models.PostActionTask{}, false
	}
	if len(res) != 2 {
		return models.PostActionTask{}, false
	}
	var task models.PostActionTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Warn().Err(err).Msg("decode redis task failed")
		return models.PostActionTask{}, false
	}
	return task, true
}

func (w *PostActionWorker) processTask(ctx context.Context, task *models.PostActionTask) {
	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	log := w.logger.With().Int64("task_id", task.ID).Int64("booking_id", task.BookingID).Str("action", task.Action).Logger()

	err := w.runner.RunPostAction(ctx, *task)
	switch {
	case err == nil:
		metrics.IncPostActionProcessed(task.Action, models.TaskStatusCompleted)
		if err := w.UpdatePostActionTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
			log.Error().Err(err).Msg("mark task completed failed")
		}
	case permanent(err):
		log.Warn().Err(err).Msg("post-action cannot succeed, moving to dead letter")
		w.fail(ctx, task, err)
	default:
		w.retryOrFail(ctx, task, err)
	}
}

func permanent(err error) bool {
	return errors.Is(err, workflow.ErrUnknownAction) || errors.Is(err, domain.ErrNotFound)
}

func (w *PostActionWorker) retryOrFail(ctx context.Context, task *models.PostActionTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.fail(ctx, task, cause)
		return
	}

	next := time.Now().UTC().Add(w.retryPolicy.NextDelay(attempt))
	metrics.IncPostActionProcessed(task.Action, models.TaskStatusRetry)
	if err := w.UpdatePostActionTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task retry failed")
	}
}

func (w *PostActionWorker) fail(ctx context.Context, task *models.PostActionTask, cause error) {
	metrics.IncPostActionProcessed(task.Action, models.TaskStatusFailed)
	if err := w.UpdatePostActionTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark task failed failed")
	}
	if w.redis == nil {
		return
	}
	msg := cause.Error()
	task.LastError = &msg
	if err := w.pushRedis(ctx, deadLetterKey, task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("dead letter push failed")
	}
}

func (w *PostActionWorker) pushRedis(ctx context.Context, key string, task *models.PostActionTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
