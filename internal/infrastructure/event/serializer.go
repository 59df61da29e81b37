package event

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/labdata/backend/internal/domain/lifecycle"
	"github.com/labdata/backend/internal/domain/shared"
)

// EventFactory returns an empty event value to unmarshal a payload into
type EventFactory func() shared.DomainEvent

// EventSerializer converts domain events to and from the JSON payloads
// stored in the outbox
type EventSerializer struct {
	mu        sync.RWMutex
	factories map[string]EventFactory
}

// NewEventSerializer creates a serializer with no registered types
func NewEventSerializer() *EventSerializer {
	return &EventSerializer{
		factories: make(map[string]EventFactory),
	}
}

// NewLifecycleEventSerializer creates a serializer that knows every lifecycle event
func NewLifecycleEventSerializer() *EventSerializer {
	s := NewEventSerializer()
	RegisterLifecycleEvents(s)
	return s
}

// Register maps an event type to the factory used when deserializing it
func (s *EventSerializer) Register(eventType string, factory EventFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[eventType] = factory
}

// Serialize serializes a domain event to JSON bytes
func (s *EventSerializer) Serialize(event shared.DomainEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", event.EventType(), err)
	}
	return data, nil
}

// Deserialize rebuilds a domain event from its type and JSON payload
func (s *EventSerializer) Deserialize(eventType string, data []byte) (shared.DomainEvent, error) {
	s.mu.RLock()
	factory, ok := s.factories[eventType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	event := factory()
	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", eventType, err)
	}
	return event, nil
}

// IsRegistered checks if an event type is registered
func (s *EventSerializer) IsRegistered(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.factories[eventType]
	return ok
}

// RegisteredTypes returns the registered event types in sorted order
func (s *EventSerializer) RegisteredTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.factories))
	for t := range s.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RegisterLifecycleEvents registers all lifecycle event types.
// The outbox processor can only deliver registered types.
func RegisterLifecycleEvents(s *EventSerializer) {
	s.Register(lifecycle.EventTypeProjectDataRegistered, func() shared.DomainEvent {
		return &lifecycle.ProjectDataRegisteredEvent{}
	})
	s.Register(lifecycle.EventTypeOperationStarted, func() shared.DomainEvent {
		return &lifecycle.OperationStartedEvent{}
	})
	s.Register(lifecycle.EventTypeOperationDispatched, func() shared.DomainEvent {
		return &lifecycle.OperationDispatchedEvent{}
	})
	s.Register(lifecycle.EventTypeDispatchFailed, func() shared.DomainEvent {
		return &lifecycle.DispatchFailedEvent{}
	})
	s.Register(lifecycle.EventTypeOperationSucceeded, func() shared.DomainEvent {
		return &lifecycle.OperationSucceededEvent{}
	})
	s.Register(lifecycle.EventTypeOperationFailed, func() shared.DomainEvent {
		return &lifecycle.OperationFailedEvent{}
	})
}
