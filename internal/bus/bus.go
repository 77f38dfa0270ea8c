// Package bus carries in-process notifications about newly recorded
// observations so the scheduler can react without polling.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds mirror the record tables that anchor growth state.
const (
	KindGrowthSample = "growth_sample"
	KindTransfer     = "transfer"
	KindTreatment    = "treatment"
	KindMortality    = "mortality"
)

// Event announces one inserted record. TriggerDate is the observation's
// effective date, not the wall-clock insert time.
type Event struct {
	ID           string
	AssignmentID string
	Kind         string
	TriggerDate  time.Time
	RecordedAt   time.Time
}

// Handler receives events on the publishing goroutine; a slow handler
// delays the insert that published the event. The daemon keeps its
// handler fast by pushing work onto the job queue.
type Handler func(Event)

// Bus is a synchronous fan-out to registered handlers.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish delivers the event to every handler in subscription order,
// assigning an ID when the caller left it empty.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
