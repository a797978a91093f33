package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
	"github.com/quickbuyer/quickbuyer-backend/pkg/outbox/payloads"
)

type decoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

// NewMarketplaceDecoders registers v1 decoders for every marketplace event.
func NewMarketplaceDecoders() *DecoderRegistry {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventProjectSubmitted, 1, decodeInto[payloads.ProjectSubmittedEvent])
	reg.Register(enums.EventPurchaseCompleted, 1, decodeInto[payloads.PurchaseCompletedEvent])
	reg.Register(enums.EventSubscriptionChanged, 1, decodeInto[payloads.SubscriptionChangedEvent])
	reg.Register(enums.EventDownloadRecorded, 1, decodeInto[payloads.DownloadRecordedEvent])
	return reg
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decoder(payload)
}

func decodeInto[T any](payload json.RawMessage) (any, error) {
	out := new(T)
	if err := json.Unmarshal(payload, out); err != nil {
		return nil, err
	}
	return out, nil
}
