// Package queue is a small at-least-once work queue on a redis stream with a
// consumer group. Start events for campaign runs travel through it when the
// api and the dispatcher run as separate processes.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
	"github.com/nimasrn/campaign-dispatcher/pkg/redis"
)

var ErrHandlerRequired = errors.New("message handler is required")

const (
	fieldData      = "data"
	fieldTimestamp = "timestamp"
	fieldAttempts  = "attempts"
	fieldError     = "error"
	fieldOrigin    = "original_id"
	metaPrefix     = "meta_"

	claimScanLimit = 100
)

type Message struct {
	ID        string
	Data      []byte
	Metadata  map[string]string
	Timestamp time.Time
	Attempts  int
}

// DeadLetter is a message that exhausted its retries, with the last handler
// error seen for it.
type DeadLetter struct {
	ID         string
	OriginalID string
	Data       []byte
	Metadata   map[string]string
	Attempts   int
	Error      string
	FailedAt   time.Time
}

// MessageHandler processes one message. A nil return acks the message, an
// error leaves it pending so it is reclaimed after VisibilityTimeout.
type MessageHandler func(ctx context.Context, msg *Message) error

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

func (c *QueueConfig) applyDefaults() {
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "default-group"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
}

type Queue struct {
	adapter redis.RedisAdapter
	config  QueueConfig
	handler MessageHandler
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// last handler error per message id, reported when it is dead-lettered
	mu         sync.Mutex
	lastErrors map[string]string
}

type QueueStats struct {
	TotalMessages   int64
	PendingMessages int64
	ConsumerCount   int64
	DeadLetters     int64
}

func NewQueue(adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	config.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		adapter:    adapter,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
		lastErrors: make(map[string]string),
	}

	// BUSYGROUP means another consumer created the group first
	if err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0"); err != nil &&
		!strings.Contains(err.Error(), "BUSYGROUP") {
		cancel()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return q, nil
}

// DeadLetterName is the stream exhausted messages are copied to.
func (q *Queue) DeadLetterName() string {
	return q.config.Name + ":dlq"
}

func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		fieldData:      string(data),
		fieldTimestamp: time.Now().Unix(),
	}
	for k, v := range metadata {
		values[metaPrefix+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	if q.config.MaxLen > 0 {
		if err := q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen); err != nil {
			logger.Warn("queue trim failed", "queue", q.config.Name, "error", err)
		}
	}
	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return q.Publish(ctx, jsonData, metadata)
}

// Consume starts the read and reclaim loops in the background.
func (q *Queue) Consume(handler MessageHandler) error {
	if handler == nil {
		return ErrHandlerRequired
	}

	q.handler = handler
	q.wg.Add(2)
	go q.readLoop()
	go q.reclaimLoop()
	return nil
}

// readLoop drains new messages batch by batch and sleeps PollInterval only
// when the stream has nothing more for this consumer.
func (q *Queue) readLoop() {
	defer q.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
		}

		for q.ctx.Err() == nil {
			if q.readBatch() < int(q.config.BatchSize) {
				break
			}
		}
		timer.Reset(q.config.PollInterval)
	}
}

func (q *Queue) readBatch() int {
	messages, err := q.adapter.XReadGroup(q.ctx, q.config.ConsumerGroup, q.config.ConsumerName, q.config.Name, ">", q.config.BatchSize)
	if err != nil {
		if !errors.Is(err, redis.NilError) && q.ctx.Err() == nil {
			logger.Warn("queue read failed", "queue", q.config.Name, "error", err)
		}
		return 0
	}

	for _, m := range messages {
		q.handleMessage(decodeMessage(m))
	}
	return len(messages)
}

// reclaimLoop takes over messages another consumer (or a failed handler)
// left pending longer than VisibilityTimeout.
func (q *Queue) reclaimLoop() {
	defer q.wg.Done()

	interval := q.config.VisibilityTimeout / 2
	if interval < q.config.PollInterval {
		interval = q.config.PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.reclaim()
		}
	}
}

func (q *Queue) reclaim() {
	pending, err := q.adapter.XPendingExt(q.ctx, q.config.Name, q.config.ConsumerGroup, "-", "+", claimScanLimit)
	if err != nil || len(pending) == 0 {
		return
	}

	deliveries := make(map[string]int64, len(pending))
	var stale []string
	for _, p := range pending {
		if p.Idle >= q.config.VisibilityTimeout {
			stale = append(stale, p.ID)
			deliveries[p.ID] = p.RetryCount
		}
	}
	if len(stale) == 0 {
		return
	}

	messages, err := q.adapter.XClaim(q.ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, stale...)
	if err != nil {
		logger.Warn("queue claim failed", "queue", q.config.Name, "error", err)
		return
	}

	for _, m := range messages {
		msg := decodeMessage(m)
		msg.Attempts = int(deliveries[msg.ID])
		q.handleMessage(msg)
	}
}

func (q *Queue) handleMessage(msg *Message) {
	if msg.Attempts >= q.config.MaxRetries {
		logger.Warn("message exceeded max retries", "queue", q.config.Name, "message_id", msg.ID, "attempts", msg.Attempts)
		q.deadLetter(msg)
		q.ack(msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.invoke(ctx, msg); err != nil {
		q.rememberError(msg.ID, err)
		logger.Warn("message handler failed, leaving pending", "queue", q.config.Name, "message_id", msg.ID, "error", err)
		return
	}
	q.ack(msg.ID)
}

// invoke turns a handler panic into an error so the message is retried
// instead of taking the consumer down.
func (q *Queue) invoke(ctx context.Context, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return q.handler(ctx, msg)
}

func (q *Queue) ack(id string) {
	q.mu.Lock()
	delete(q.lastErrors, id)
	q.mu.Unlock()

	if err := q.adapter.XAck(q.ctx, q.config.Name, q.config.ConsumerGroup, id); err != nil {
		logger.Error("failed to ack message", "queue", q.config.Name, "message_id", id, "error", err)
	}
}

func (q *Queue) rememberError(id string, err error) {
	q.mu.Lock()
	q.lastErrors[id] = err.Error()
	q.mu.Unlock()
}

func (q *Queue) deadLetter(msg *Message) {
	if !q.config.EnableDLQ {
		return
	}

	q.mu.Lock()
	reason := q.lastErrors[msg.ID]
	q.mu.Unlock()
	if reason == "" {
		reason = "max retries exceeded"
	}

	values := map[string]interface{}{
		fieldData:      string(msg.Data),
		fieldOrigin:    msg.ID,
		fieldAttempts:  msg.Attempts,
		fieldError:     reason,
		fieldTimestamp: time.Now().Unix(),
	}
	for k, v := range msg.Metadata {
		values[metaPrefix+k] = v
	}

	if _, err := q.adapter.XAdd(q.ctx, q.DeadLetterName(), values); err != nil {
		logger.Error("failed to dead-letter message", "queue", q.config.Name, "message_id", msg.ID, "error", err)
	}
}

// DeadLetters returns up to count dead-lettered messages, newest first.
func (q *Queue) DeadLetters(ctx context.Context, count int64) ([]DeadLetter, error) {
	entries, err := q.adapter.XRevRange(ctx, q.DeadLetterName(), count)
	if err != nil {
		return nil, err
	}

	out := make([]DeadLetter, 0, len(entries))
	for _, e := range entries {
		msg := decodeMessage(e)
		dl := DeadLetter{
			ID:       e.ID,
			Data:     msg.Data,
			Metadata: msg.Metadata,
			Attempts: msg.Attempts,
			FailedAt: msg.Timestamp,
		}
		dl.OriginalID, _ = e.Values[fieldOrigin].(string)
		dl.Error, _ = e.Values[fieldError].(string)
		out = append(out, dl)
	}
	return out, nil
}

func decodeMessage(m redis.StreamMessage) *Message {
	msg := &Message{
		ID:       m.ID,
		Metadata: make(map[string]string),
	}

	for k, v := range m.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == fieldData:
			msg.Data = []byte(s)
		case k == fieldTimestamp:
			if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
				msg.Timestamp = time.Unix(unix, 0)
			}
		case k == fieldAttempts:
			msg.Attempts, _ = strconv.Atoi(s)
		case strings.HasPrefix(k, metaPrefix):
			msg.Metadata[strings.TrimPrefix(k, metaPrefix)] = s
		}
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return msg
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue %s to stop", q.config.Name)
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	total, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}

	stats := &QueueStats{TotalMessages: total}
	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	if q.config.EnableDLQ {
		if n, err := q.adapter.XLen(ctx, q.DeadLetterName()); err == nil {
			stats.DeadLetters = n
		}
	}
	return stats, nil
}
