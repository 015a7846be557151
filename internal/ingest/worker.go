package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cardfolio/cardfolio/internal/metrics"
	"github.com/cardfolio/cardfolio/internal/model"
)

const (
	// ConsumerGroup is the Redis consumer group name.
	ConsumerGroup = "profile_event_writers"

	// DefaultBatchSize is the max events per batch.
	DefaultBatchSize = 100

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the max retries for batch processing.
	DefaultMaxRetries = 3

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultMetricsInterval is how often to refresh queue depth metrics.
	DefaultMetricsInterval = 5 * time.Second

	deadLetterMaxLen = 10000
)

// Repository persists decoded events.
type Repository interface {
	BulkInsertViews(ctx context.Context, events []*model.ViewEvent) error
	BulkInsertSocialClicks(ctx context.Context, events []*model.SocialClickEvent) error
}

// Worker drains the profile event stream into PostgreSQL.
type Worker struct {
	redis           *redis.Client
	repo            Repository
	logger          *slog.Logger
	metrics         metrics.Recorder
	consumerID      string
	batchSize       int
	blockTimeout    time.Duration
	maxRetries      int
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time
	now             func() time.Time

	started   bool
	draining  bool
	stopReads context.CancelFunc
	abort     context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
}

// NewWorker creates a new ingest worker.
func NewWorker(client *redis.Client, repo Repository, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		redis:           client,
		repo:            repo,
		logger:          logger.With("component", "ingest.worker", "consumer_id", consumerID),
		metrics:         recorder,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		blockTimeout:    DefaultBlockTimeout,
		maxRetries:      DefaultMaxRetries,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
		now:             time.Now,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled or Shutdown
// is called.
//
// Reads and claims use a context that Shutdown cancels at once; inserts
// and acks use one that Shutdown cancels only when its own deadline
// passes, so a batch already read is normally persisted and acked.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	readCtx, stopReads := context.WithCancel(ctx)
	workCtx, abort := context.WithCancel(ctx)
	w.stopReads, w.abort = stopReads, abort
	w.mu.Unlock()

	defer close(w.done)
	defer abort()
	defer stopReads()

	if err := w.ensureConsumerGroup(readCtx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("ingest worker started", "batch_size", w.batchSize)

	for {
		w.mu.Lock()
		draining := w.draining
		w.mu.Unlock()

		if draining {
			w.logger.Info("ingest worker drained, stopping")
			return nil
		}

		select {
		case <-readCtx.Done():
			w.logger.Info("ingest worker stopping")
			return readCtx.Err()
		default:
			if err := w.processOnce(readCtx, workCtx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				w.logger.Error("process error", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// Shutdown stops reading new messages and waits for the batch in flight
// to be persisted and acked. If ctx expires first the batch is aborted;
// its messages stay pending and are reclaimed by XAUTOCLAIM later.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.draining = true
	stopReads, abort := w.stopReads, w.abort
	done := w.done
	w.mu.Unlock()

	w.logger.Info("ingest worker shutdown initiated")
	stopReads()

	select {
	case <-done:
		w.logger.Info("ingest worker shutdown complete")
		return nil
	case <-ctx.Done():
		abort()
		<-done
		w.logger.Warn("ingest worker shutdown timed out, in-flight batch left pending")
		return ctx.Err()
	}
}

// SetBatchSize overrides the default batch size.
func (w *Worker) SetBatchSize(size int) {
	if size > 0 {
		w.batchSize = size
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (w *Worker) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		w.blockTimeout = timeout
	}
}

// SetClaimInterval overrides the default pending-claim interval.
func (w *Worker) SetClaimInterval(interval time.Duration) {
	if interval > 0 {
		w.claimInterval = interval
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (w *Worker) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		w.claimIdle = idle
	}
}

func (w *Worker) ensureConsumerGroup(ctx context.Context) error {
	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return err
	}
	return nil
}

// processOnce reads and persists a single batch.
func (w *Worker) processOnce(readCtx, workCtx context.Context) error {
	w.maybeUpdateQueueDepth(readCtx)

	claimed, err := w.maybeClaimPending(readCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Warn("failed to claim pending messages", "error", err)
	}

	messages := claimed
	if len(messages) == 0 {
		messages, err = w.readBatch(readCtx)
		if err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		return nil
	}

	items, messageIDs := w.parseMessages(workCtx, messages)
	if len(items) == 0 {
		return w.ackMessages(workCtx, messageIDs)
	}

	if err := w.processBatchWithRetry(workCtx, items); err != nil {
		if !isPermanent(err) {
			w.logger.Error("batch processing failed after retries",
				"batch_size", len(items),
				"error", err,
			)
			// Leave unacknowledged; XAUTOCLAIM picks them up later.
			return err
		}

		w.logger.Warn("batch rejected by database, isolating events",
			"batch_size", len(items),
			"error", err,
		)
		if err := w.isolate(workCtx, items); err != nil {
			return err
		}
	}

	return w.ackMessages(workCtx, messageIDs)
}

func (w *Worker) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if w.claimInterval <= 0 || w.claimIdle <= 0 {
		return nil, nil
	}
	if !w.lastClaim.IsZero() && time.Since(w.lastClaim) < w.claimInterval {
		return nil, nil
	}

	w.lastClaim = time.Now()
	messages, start, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.claimIdle,
		Start:    w.claimStartID,
		Count:    int64(w.batchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		w.claimStartID = start
	}
	return messages, nil
}

func (w *Worker) maybeUpdateQueueDepth(ctx context.Context) {
	if w.metricsInterval <= 0 {
		return
	}
	if !w.lastMetrics.IsZero() && time.Since(w.lastMetrics) < w.metricsInterval {
		return
	}
	w.lastMetrics = time.Now()

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		w.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == ConsumerGroup {
			w.metrics.SetIngestQueueDepth(group.Pending + group.Lag)
			return
		}
	}
}

func (w *Worker) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.batchSize),
		Block:    w.blockTimeout,
	}).Result()

	if errors.Is(err, redis.Nil) || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	return streams[0].Messages, nil
}

// batchItem ties a decoded event to the stream message that carried it.
// Exactly one of view and click is set.
type batchItem struct {
	msg   redis.XMessage
	view  *model.ViewEvent
	click *model.SocialClickEvent
}

func (it batchItem) occurredAt() time.Time {
	if it.view != nil {
		return it.view.ViewedAt
	}
	return it.click.ClickedAt
}

// poisonError marks a message that can never be persisted.
type poisonError struct {
	reason string
	err    error
}

func (e *poisonError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *poisonError) Unwrap() error { return e.err }

// parseMessages decodes stream messages. Poison messages are moved to the
// dead-letter stream; every message ID is returned for acknowledgement.
func (w *Worker) parseMessages(ctx context.Context, messages []redis.XMessage) ([]batchItem, []string) {
	items := make([]batchItem, 0, len(messages))
	messageIDs := make([]string, 0, len(messages))

	for _, msg := range messages {
		messageIDs = append(messageIDs, msg.ID)

		item, err := decodeMessage(msg, w.now())
		if err != nil {
			var perr *poisonError
			reason := "invalid_format"
			if errors.As(err, &perr) {
				reason = perr.reason
			}
			w.deadLetterMessage(ctx, msg, reason, err.Error())
			continue
		}
		items = append(items, item)
	}

	return items, messageIDs
}

// decodeMessage turns a stream message into a view or social-click row.
// The stream ID becomes the row's event_id so redelivery stays idempotent.
func decodeMessage(msg redis.XMessage, now time.Time) (batchItem, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return batchItem{}, &poisonError{reason: "invalid_format", err: errors.New("payload field missing or not a string")}
	}

	var p EventPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return batchItem{}, &poisonError{reason: "unmarshal_error", err: err}
	}
	if err := ValidatePayload(p); err != nil {
		return batchItem{}, &poisonError{reason: "validation_error", err: err}
	}

	occurredAt := time.UnixMilli(p.OccurredAt).UTC()
	item := batchItem{msg: msg}

	switch p.Kind {
	case KindView:
		item.view = &model.ViewEvent{
			ID:            ulid.Make().String(),
			EventID:       msg.ID,
			ProfileID:     p.ProfileID,
			ViewerAddress: p.ViewerAddress,
			UserAgent:     p.UserAgent,
			Referrer:      p.Referrer,
			Source:        p.Source,
			Country:       optionalString(p.Country),
			City:          optionalString(p.City),
			Latitude:      p.Latitude,
			Longitude:     p.Longitude,
			ViewedAt:      occurredAt,
			CreatedAt:     now.UTC(),
		}
	case KindSocialClick:
		item.click = &model.SocialClickEvent{
			ID:        ulid.Make().String(),
			EventID:   msg.ID,
			ProfileID: p.ProfileID,
			Platform:  p.Platform,
			ClickedAt: occurredAt,
			CreatedAt: now.UTC(),
		}
	}

	return item, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (w *Worker) deadLetterMessage(ctx context.Context, msg redis.XMessage, reason, detail string) {
	w.logger.Warn("dead-lettering poison message",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	_, err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]any{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           detail,
			"payload":          msg.Values["payload"],
			"dead_lettered_at": w.now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		w.logger.Error("failed to write to dead-letter queue",
			"message_id", msg.ID,
			"error", err,
		)
	}

	w.metrics.IncEventProcessed("dead_lettered")
}

// processBatchWithRetry retries transient failures with exponential backoff.
// Permanent database rejections return immediately.
func (w *Worker) processBatchWithRetry(ctx context.Context, items []batchItem) error {
	var lastErr error

	for attempt := 1; attempt <= w.maxRetries; attempt++ {
		err := w.processBatch(ctx, items)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		lastErr = err

		if attempt == w.maxRetries {
			break
		}
		backoff := time.Duration(1<<attempt) * time.Second
		w.logger.Warn("batch processing failed, retrying",
			"attempt", attempt,
			"backoff_seconds", backoff.Seconds(),
			"error", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	for range items {
		w.metrics.IncEventProcessed("failed")
	}
	return lastErr
}

// processBatch inserts the views and social clicks of a batch.
func (w *Worker) processBatch(ctx context.Context, items []batchItem) error {
	start := time.Now()

	views, clicks := splitBatch(items)

	if len(views) > 0 {
		if err := w.repo.BulkInsertViews(ctx, views); err != nil {
			return fmt.Errorf("insert views: %w", err)
		}
	}
	if len(clicks) > 0 {
		if err := w.repo.BulkInsertSocialClicks(ctx, clicks); err != nil {
			return fmt.Errorf("insert social clicks: %w", err)
		}
	}

	w.logger.Info("batch processed",
		"views", len(views),
		"social_clicks", len(clicks),
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)

	w.metrics.ObserveIngestBatchSize(len(items))
	w.metrics.ObserveIngestBatchDuration(time.Since(start))
	now := w.now()
	for _, it := range items {
		w.metrics.IncEventProcessed("success")
		w.metrics.ObserveIngestLag(now.Sub(it.occurredAt()))
	}

	return nil
}

// isolate persists items one at a time after a batch was rejected, so a
// single bad row (for example a profile deleted after the event was queued)
// is dead-lettered instead of blocking its neighbours.
func (w *Worker) isolate(ctx context.Context, items []batchItem) error {
	for _, it := range items {
		err := w.processBatch(ctx, []batchItem{it})
		if err == nil {
			continue
		}
		if !isPermanent(err) {
			return err
		}
		w.deadLetterMessage(ctx, it.msg, "rejected", err.Error())
	}
	return nil
}

func splitBatch(items []batchItem) ([]*model.ViewEvent, []*model.SocialClickEvent) {
	var views []*model.ViewEvent
	var clicks []*model.SocialClickEvent
	for _, it := range items {
		switch {
		case it.view != nil:
			views = append(views, it.view)
		case it.click != nil:
			clicks = append(clicks, it.click)
		}
	}
	return views, clicks
}

func (w *Worker) ackMessages(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}

	if _, err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, messageIDs...).Result(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// isPermanent reports whether err is a PostgreSQL integrity or data
// exception, which no amount of retrying will fix.
func isPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22")
}

func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
