package service

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/resource-allocator/internal/core/domain"
	"github.com/rl1809/resource-allocator/internal/port"
)

// eventSink records appended events and can hold writers until released.
type eventSink struct {
	port.Store
	gate chan struct{}

	mu     sync.Mutex
	events []domain.RequestEvent
}

func (s *eventSink) AppendEvents(_ context.Context, events ...domain.RequestEvent) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *eventSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestAuditTrail_WritesQueuedEventsOnClose(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	sink := &eventSink{}

	audit := NewAuditTrail(sink, 8, log)
	audit.Start(2)
	for i := 0; i < 5; i++ {
		audit.Record(domain.RequestEvent{ID: string(rune('a' + i)), RequestID: "r1", ToStatus: domain.RequestStatusPending})
	}
	audit.Close()

	assert.Equal(t, 5, sink.count())

	// closed trail ignores new events and tolerates a second Close
	audit.Record(domain.RequestEvent{ID: "late", RequestID: "r1"})
	audit.Close()
	assert.Equal(t, 5, sink.count())
}

func TestAuditTrail_DropsWhenFull(t *testing.T) {
	log, hook := test.NewNullLogger()
	sink := &eventSink{gate: make(chan struct{})}

	audit := NewAuditTrail(sink, 1, log)
	// no workers yet: the queue holds one event
	audit.Record(
		domain.RequestEvent{ID: "kept", RequestID: "r1"},
		domain.RequestEvent{ID: "dropped", RequestID: "r1"},
	)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "audit queue full, event dropped" {
			warned = true
		}
	}
	assert.True(t, warned)

	audit.Start(1)
	close(sink.gate)
	audit.Close()

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "kept", sink.events[0].ID)
}
