package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

const auditWriteTimeout = 5 * time.Second

// AuditTrail persists request events in the background. Record never blocks
// the caller: a full queue drops the event with a warning.
type AuditTrail struct {
	store port.Store
	log   *logrus.Entry
	queue chan domain.RequestEvent

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAuditTrail(store port.Store, queueSize int, log *logrus.Logger) *AuditTrail {
	return &AuditTrail{
		store: store,
		log:   log.WithField("module", "audit"),
		queue: make(chan domain.RequestEvent, queueSize),
	}
}

// Start launches the worker pool draining the queue.
func (a *AuditTrail) Start(workers int) {
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go func(id int) {
			defer a.wg.Done()
			a.workerLoop(id)
		}(i)
	}
	a.log.WithField("workers", workers).Info("audit workers started")
}

func (a *AuditTrail) Record(events ...domain.RequestEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return
	}
	for _, ev := range events {
		select {
		case a.queue <- ev:
		default:
			a.log.WithFields(logrus.Fields{
				"request_id": ev.RequestID,
				"to_status":  ev.ToStatus,
			}).Warn("audit queue full, event dropped")
		}
	}
}

// Close stops accepting events and waits until queued ones are written.
func (a *AuditTrail) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	a.log.Info("audit workers stopped")
}

func (a *AuditTrail) workerLoop(id int) {
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)

		if err := a.store.AppendEvents(ctx, ev); err != nil {
			a.log.WithError(err).WithFields(logrus.Fields{
				"worker":     id,
				"request_id": ev.RequestID,
				"event_id":   ev.ID,
			}).Error("failed to save request event")
		}

		cancel()
	}
}
