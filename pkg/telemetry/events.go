package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents one entry in a run timeline.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// RunID is the associated run ID.
	RunID string `json:"run_id,omitempty"`

	// NodeID is the associated node ID, if applicable.
	NodeID string `json:"node_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types published by the scheduler.
const (
	EventTypeRunStarted        = "run.started"
	EventTypeRunCompleted      = "run.completed"
	EventTypeRunShortCircuited = "run.short_circuited"
	EventTypeRunTimedOut       = "run.timed_out"
	EventTypeNodeStarted       = "node.started"
	EventTypeNodeCompleted     = "node.completed"
	EventTypeNodeDegraded      = "node.degraded"
	EventTypeNodeSkipped       = "node.skipped"
	EventTypePolicyDenied      = "policy.denied"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans run events out to subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config: cfg,
		buffer: make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.MinLevel != "" {
		ep.AddFilter(FilterByLevel(cfg.MinLevel))
	}

	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. Publishing on a nil or
// disabled publisher is a no-op.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID string, nodes int) error {
	return ep.Publish(Event{
		Type:    EventTypeRunStarted,
		Source:  "scheduler",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started with %d nodes", runID, nodes),
		Data: map[string]interface{}{
			"nodes": nodes,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		Source:  "scheduler",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed with status: %s", runID, status),
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunShortCircuited publishes a short-circuit event.
func (ep *EventPublisher) PublishRunShortCircuited(runID, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunShortCircuited,
		Source:  "scheduler",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s halted upstream: %s", runID, reason),
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishRunTimedOut publishes a run deadline event.
func (ep *EventPublisher) PublishRunTimedOut(runID string, abandoned []string) error {
	return ep.Publish(Event{
		Type:    EventTypeRunTimedOut,
		Source:  "scheduler",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s hit its deadline with %d nodes outstanding", runID, len(abandoned)),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"abandoned": abandoned,
		},
	})
}

// PublishNodeStarted publishes a node started event.
func (ep *EventPublisher) PublishNodeStarted(runID, nodeID string) error {
	return ep.Publish(Event{
		Type:    EventTypeNodeStarted,
		Source:  "scheduler",
		RunID:   runID,
		NodeID:  nodeID,
		Message: fmt.Sprintf("Node %s started", nodeID),
	})
}

// PublishNodeCompleted publishes the merge of a node's patch. The event type
// follows the patch status.
func (ep *EventPublisher) PublishNodeCompleted(runID, nodeID, status, reason string, duration time.Duration) error {
	event := Event{
		Type:    EventTypeNodeCompleted,
		Source:  "scheduler",
		RunID:   runID,
		NodeID:  nodeID,
		Message: fmt.Sprintf("Node %s completed with status %s", nodeID, status),
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	}
	switch status {
	case "degraded":
		event.Type = EventTypeNodeDegraded
		event.Level = EventLevelWarning
		event.Message = fmt.Sprintf("Node %s degraded: %s", nodeID, reason)
		event.Data["reason"] = reason
	case "skipped":
		event.Type = EventTypeNodeSkipped
	}
	return ep.Publish(event)
}

// PublishPolicyDenied publishes an admission policy denial.
func (ep *EventPublisher) PublishPolicyDenied(policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyDenied,
		Source:  "policy",
		Message: fmt.Sprintf("Policy %s denied admission: %s", policyName, reason),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer asynchronously in batches.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// Deliver whatever is queued once the buffer is momentarily empty.
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}

		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

// deliverEvent delivers an event to all matching subscribers in order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown flushes buffered events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}
