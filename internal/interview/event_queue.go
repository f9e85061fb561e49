package interview

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// Events beyond this many pending are dropped.
	defaultQueueCapacity = 256
	defaultEventTimeout  = 10 * time.Second
	slowEventThreshold   = time.Second
)

var (
	ErrQueueClosed  = errors.New("event queue closed")
	ErrQueueFull    = errors.New("event queue full")
	ErrQueueTimeout = errors.New("event queue timeout")
)

// EventHandler processes one event on the queue goroutine
type EventHandler func(ctx context.Context, event Event) error

// EventQueue serializes every event of one session onto a single goroutine
type EventQueue struct {
	sessionID string
	handler   EventHandler
	eventChan chan *queuedEvent
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.Logger

	mu              sync.Mutex
	totalEvents     int64
	processedEvents int64
	droppedEvents   int64
}

type queuedEvent struct {
	event     Event
	timestamp time.Time
	resultCh  chan error
}

// QueueStats reports event counters
type QueueStats struct {
	SessionID       string `json:"session_id"`
	TotalEvents     int64  `json:"total_events"`
	ProcessedEvents int64  `json:"processed_events"`
	DroppedEvents   int64  `json:"dropped_events"`
	PendingEvents   int    `json:"pending_events"`
	QueueCapacity   int    `json:"queue_capacity"`
}

// NewEventQueue creates the queue and starts its processing goroutine
func NewEventQueue(sessionID string, capacity int, handler EventHandler, logger *zap.Logger) *EventQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}

	ctx, cancel := context.WithCancel(context.Background())
	eq := &EventQueue{
		sessionID: sessionID,
		handler:   handler,
		eventChan: make(chan *queuedEvent, capacity),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(zap.String("sessionID", sessionID)),
	}

	eq.wg.Add(1)
	go eq.processLoop()
	return eq
}

// Enqueue adds an event without waiting. It fails when the queue is full.
func (eq *EventQueue) Enqueue(event Event) error {
	select {
	case <-eq.ctx.Done():
		return ErrQueueClosed
	default:
	}

	select {
	case eq.eventChan <- &queuedEvent{event: event, timestamp: time.Now()}:
		eq.mu.Lock()
		eq.totalEvents++
		eq.mu.Unlock()
		return nil
	default:
		eq.mu.Lock()
		eq.droppedEvents++
		eq.mu.Unlock()
		eq.logger.Warn("Event queue full, dropping event", zap.String("eventType", event.Type()))
		return ErrQueueFull
	}
}

// EnqueueSync adds an event and waits for the handler's result
func (eq *EventQueue) EnqueueSync(event Event, timeout time.Duration) error {
	select {
	case <-eq.ctx.Done():
		return ErrQueueClosed
	default:
	}

	if timeout <= 0 {
		timeout = defaultEventTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	qe := &queuedEvent{event: event, timestamp: time.Now(), resultCh: make(chan error, 1)}
	select {
	case eq.eventChan <- qe:
		eq.mu.Lock()
		eq.totalEvents++
		eq.mu.Unlock()
	case <-timer.C:
		return ErrQueueTimeout
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}

	select {
	case err := <-qe.resultCh:
		return err
	case <-timer.C:
		return ErrQueueTimeout
	case <-eq.ctx.Done():
		return ErrQueueClosed
	}
}

func (eq *EventQueue) processLoop() {
	defer eq.wg.Done()
	for {
		select {
		case <-eq.ctx.Done():
			return
		case qe := <-eq.eventChan:
			eq.process(qe)
		}
	}
}

func (eq *EventQueue) process(qe *queuedEvent) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(eq.ctx, defaultEventTimeout)
	err := eq.handler(ctx, qe.event)
	cancel()

	elapsed := time.Since(start)
	if err != nil {
		eq.logger.Debug("Event handler returned error",
			zap.String("eventType", qe.event.Type()),
			zap.Error(err))
	}
	if elapsed > slowEventThreshold {
		eq.logger.Warn("Slow event processing",
			zap.String("eventType", qe.event.Type()),
			zap.Duration("processingTime", elapsed),
			zap.Duration("queueLatency", start.Sub(qe.timestamp)))
	}

	eq.mu.Lock()
	eq.processedEvents++
	eq.mu.Unlock()

	if qe.resultCh != nil {
		qe.resultCh <- err
	}
}

// Close stops the processing goroutine. Pending events are discarded.
func (eq *EventQueue) Close() {
	eq.cancel()
	eq.wg.Wait()

	stats := eq.Stats()
	eq.logger.Debug("Event queue closed",
		zap.Int64("total", stats.TotalEvents),
		zap.Int64("processed", stats.ProcessedEvents),
		zap.Int64("dropped", stats.DroppedEvents),
		zap.Int("pending", stats.PendingEvents))
}

// Stats returns the queue counters
func (eq *EventQueue) Stats() QueueStats {
	eq.mu.Lock()
	defer eq.mu.Unlock()
	return QueueStats{
		SessionID:       eq.sessionID,
		TotalEvents:     eq.totalEvents,
		ProcessedEvents: eq.processedEvents,
		DroppedEvents:   eq.droppedEvents,
		PendingEvents:   len(eq.eventChan),
		QueueCapacity:   cap(eq.eventChan),
	}
}
