package metrics

import (
	"math/big"
	"strconv"
	"strings"

	"promchain/core/events"
	"promchain/core/types"
)

// payloadCarrier is implemented by events that expose their structured
// payload alongside the type string.
type payloadCarrier interface {
	Event() *types.Event
}

// Emitter wraps another events.Emitter and records each event before
// forwarding it. Events are routed to the promise or farm registry
// based on their type prefix; events carrying a structured payload also
// feed the gauges and fee counters derived from their attributes.
type Emitter struct {
	next events.Emitter
}

// NewEmitter wraps next with event recording. A nil next discards
// events after recording.
func NewEmitter(next events.Emitter) *Emitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &Emitter{next: next}
}

// Emit implements events.Emitter.
func (e *Emitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	eventType := evt.EventType()
	payload := payloadOf(evt)
	if strings.HasPrefix(eventType, "farm.") {
		registry := Farm()
		registry.ObserveEvent(eventType)
		recordFarmPayload(registry, payload)
	} else {
		registry := Promise()
		registry.ObserveEvent(eventType)
		recordPromisePayload(registry, eventType, payload)
	}
	e.next.Emit(evt)
}

func payloadOf(evt events.Event) *types.Event {
	carrier, ok := evt.(payloadCarrier)
	if !ok {
		return nil
	}
	return carrier.Event()
}

func recordPromisePayload(m *PromiseMetrics, eventType string, payload *types.Event) {
	if payload == nil {
		return
	}
	attrs := payload.Attributes
	switch eventType {
	case "promise.created":
		m.IncOpenPromises()
	case "promise.executed":
		m.DecOpenPromises()
		recordFees(m, attrs)
	case "promise.cancelled":
		m.DecOpenPromises()
	case "promise.pending_closed":
		recordFees(m, attrs)
		if attrs["cancelled"] == "true" {
			m.DecOpenPromises()
		}
	}
}

func recordFees(m *PromiseMetrics, attrs map[string]string) {
	if fee := attrFloat(attrs, "feeCreatorAsset"); fee > 0 {
		m.AddFees(attrs["creatorAsset"], fee)
	}
	if fee := attrFloat(attrs, "feeJoinerAsset"); fee > 0 {
		m.AddFees(attrs["joinerAsset"], fee)
	}
}

func recordFarmPayload(m *FarmMetrics, payload *types.Event) {
	if payload == nil {
		return
	}
	attrs := payload.Attributes
	if harvested := attrFloat(attrs, "harvested"); harvested > 0 {
		m.AddRewardsPaid(harvested)
	}
	weight, ok := attrs["poolWeight"]
	if !ok {
		return
	}
	pid, err := strconv.ParseUint(attrs["pool"], 10, 64)
	if err != nil {
		return
	}
	if parsed, ok := new(big.Float).SetString(weight); ok {
		value, _ := parsed.Float64()
		m.SetPoolWeight(pid, value)
	}
}

// attrFloat parses a base-unit big integer attribute into the float
// domain prometheus works in; absent or malformed values count as zero.
func attrFloat(attrs map[string]string, key string) float64 {
	value, ok := attrs[key]
	if !ok {
		return 0
	}
	parsed, ok := new(big.Float).SetString(value)
	if !ok {
		return 0
	}
	out, _ := parsed.Float64()
	return out
}
