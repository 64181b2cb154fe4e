package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/budget-api/internal/events"
	"github.com/noah-isme/budget-api/internal/obs"
)

const (
	// TypeQuoteEvent is the asynq task type carrying a quote lifecycle event.
	TypeQuoteEvent = "quote:event"
	// EventsQueue is the asynq queue quote events are published to.
	EventsQueue = "events"
)

// Enqueuer is the subset of *asynq.Client used to publish tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewEventTask wraps ev in an asynq task. The event id doubles as the task id
// so a re-published event is deduplicated by the broker.
func NewEventTask(ev events.Event) (*asynq.Task, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("queue: encode event: %w", err)
	}
	return asynq.NewTask(TypeQuoteEvent, raw, asynq.TaskID(ev.ID)), nil
}

// Notifier forwards bus events to the task queue.
type Notifier struct {
	Client    Enqueuer
	Queue     string
	MaxRetry  int
	RetainFor time.Duration
}

func (n Notifier) Notify(ctx context.Context, ev events.Event) error {
	if n.Client == nil {
		return errors.New("queue: client not configured")
	}
	task, err := NewEventTask(ev)
	if err != nil {
		obs.IncQuoteEventEmitted(ev.Topic, "error")
		return err
	}
	opts := []asynq.Option{}
	if n.Queue != "" {
		opts = append(opts, asynq.Queue(n.Queue))
	}
	if n.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(n.MaxRetry))
	}
	if n.RetainFor > 0 {
		opts = append(opts, asynq.Retention(n.RetainFor))
	}
	if _, err := n.Client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			obs.IncQuoteEventEmitted(ev.Topic, "duplicate")
			return nil
		}
		obs.IncQuoteEventEmitted(ev.Topic, "error")
		return fmt.Errorf("queue: enqueue %s: %w", ev.Topic, err)
	}
	obs.IncQuoteEventEmitted(ev.Topic, "ok")
	return nil
}

// EventHandler consumes quote events on the worker side.
type EventHandler struct {
	Logger zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h EventHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var ev events.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		return fmt.Errorf("queue: decode event: %v: %w", err, asynq.SkipRetry)
	}
	if !events.KnownTopic(ev.Topic) {
		return fmt.Errorf("queue: unknown topic %q: %w", ev.Topic, asynq.SkipRetry)
	}
	h.Logger.Info().
		Str("event_id", ev.ID).
		Str("topic", ev.Topic).
		Str("quote_id", ev.QuoteID).
		Time("occurred_at", ev.OccurredAt).
		Msg("quote_event_processed")
	obs.IncQuoteEventProcessed(ev.Topic)
	return nil
}

// NewServeMux registers the event handler on a fresh mux.
func NewServeMux(h EventHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeQuoteEvent, h)
	return mux
}

// Logger adapts zerolog to asynq.Logger.
type Logger struct {
	L zerolog.Logger
}

func (l Logger) Debug(args ...any) { l.L.Debug().Msg(fmt.Sprint(args...)) }
func (l Logger) Info(args ...any)  { l.L.Info().Msg(fmt.Sprint(args...)) }
func (l Logger) Warn(args ...any)  { l.L.Warn().Msg(fmt.Sprint(args...)) }
func (l Logger) Error(args ...any) { l.L.Error().Msg(fmt.Sprint(args...)) }
func (l Logger) Fatal(args ...any) { l.L.Fatal().Msg(fmt.Sprint(args...)) }

// ErrorHandler logs tasks that failed an attempt.
func ErrorHandler(logger zerolog.Logger) asynq.ErrorHandler {
	return asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		logger.Warn().Err(err).
			Str("type", task.Type()).
			Int("retried", retried).
			Int("max_retry", maxRetry).
			Msg("task failed")
	})
}
