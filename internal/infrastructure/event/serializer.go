package event

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/marketplace/payouts/internal/domain/payout"
	"github.com/marketplace/payouts/internal/domain/shared"
)

// EventSerializer encodes domain events as JSON and decodes them back into
// their concrete types by event type name.
type EventSerializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type
}

// NewEventSerializer creates an empty serializer
func NewEventSerializer() *EventSerializer {
	return &EventSerializer{
		registry: make(map[string]reflect.Type),
	}
}

// NewPayoutEventSerializer creates a serializer that knows every payout domain event
func NewPayoutEventSerializer() *EventSerializer {
	s := NewEventSerializer()
	s.Register(payout.EventTypeOrderRecorded, &payout.OrderRecordedEvent{})
	s.Register(payout.EventTypeOrderStatusChanged, &payout.OrderStatusChangedEvent{})
	s.Register(payout.EventTypePayoutProcessing, &payout.PayoutProcessingStartedEvent{})
	s.Register(payout.EventTypePayoutTransferred, &payout.PayoutTransferredEvent{})
	s.Register(payout.EventTypeCommissionRateChanged, &payout.CommissionRateChangedEvent{})
	return s
}

// Register associates an event type name with the Go type of the given instance
func (s *EventSerializer) Register(eventType string, instance shared.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := reflect.TypeOf(instance)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	s.registry[eventType] = t
}

// Serialize encodes an event as JSON
func (s *EventSerializer) Serialize(evt shared.DomainEvent) ([]byte, error) {
	return json.Marshal(evt)
}

// Deserialize decodes data into the type registered for eventType
func (s *EventSerializer) Deserialize(eventType string, data []byte) (shared.DomainEvent, error) {
	s.mu.RLock()
	t, ok := s.registry[eventType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}

	ptr := reflect.New(t).Interface()
	if err := json.Unmarshal(data, ptr); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", eventType, err)
	}

	evt, ok := ptr.(shared.DomainEvent)
	if !ok {
		return nil, fmt.Errorf("%s does not implement DomainEvent", t)
	}
	if evt.EventType() != eventType {
		return nil, fmt.Errorf("event type mismatch: envelope %q, payload %q", eventType, evt.EventType())
	}
	return evt, nil
}

// IsRegistered checks if an event type is registered
func (s *EventSerializer) IsRegistered(eventType string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registry[eventType]
	return ok
}

// RegisteredTypes returns the registered event type names in sorted order
func (s *EventSerializer) RegisteredTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	types := make([]string, 0, len(s.registry))
	for t := range s.registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
