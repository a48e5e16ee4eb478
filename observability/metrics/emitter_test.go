package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"promchain/core/events"
	"promchain/core/types"
)

type staticEvent string

func (s staticEvent) EventType() string { return string(s) }

type capturingEmitter struct {
	seen []string
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.seen = append(c.seen, evt.EventType())
}

func TestEmitterForwardsAndCounts(t *testing.T) {
	next := &capturingEmitter{}
	emitter := NewEmitter(next)

	emitter.Emit(staticEvent("promise.created"))
	emitter.Emit(staticEvent("farm.pool_added"))

	if len(next.seen) != 2 || next.seen[0] != "promise.created" || next.seen[1] != "farm.pool_added" {
		t.Fatalf("expected events forwarded in order, got %v", next.seen)
	}
}

type payloadEvent struct {
	evt *types.Event
}

func (p payloadEvent) EventType() string   { return p.evt.Type }
func (p payloadEvent) Event() *types.Event { return p.evt }

func TestEmitterRecordsPayloadDerivedSeries(t *testing.T) {
	emitter := NewEmitter(nil)
	openBefore := testutil.ToFloat64(Promise().openPromises)
	creatorFeesBefore := testutil.ToFloat64(Promise().feesAccrued.WithLabelValues("AAA"))
	joinerFeesBefore := testutil.ToFloat64(Promise().feesAccrued.WithLabelValues("BBB"))
	rewardsBefore := testutil.ToFloat64(Farm().rewardsPaid)

	emitter.Emit(payloadEvent{&types.Event{Type: "promise.created", Attributes: map[string]string{"id": "1"}}})
	if got := testutil.ToFloat64(Promise().openPromises); got != openBefore+1 {
		t.Fatalf("open gauge after create: got %v want %v", got, openBefore+1)
	}

	emitter.Emit(payloadEvent{&types.Event{Type: "promise.executed", Attributes: map[string]string{
		"id":              "1",
		"creatorAsset":    "AAA",
		"joinerAsset":     "BBB",
		"feeCreatorAsset": "500",
		"feeJoinerAsset":  "250",
	}}})
	if got := testutil.ToFloat64(Promise().openPromises); got != openBefore {
		t.Fatalf("open gauge after execute: got %v want %v", got, openBefore)
	}
	if got := testutil.ToFloat64(Promise().feesAccrued.WithLabelValues("AAA")); got != creatorFeesBefore+500 {
		t.Fatalf("creator asset fees: got %v want %v", got, creatorFeesBefore+500)
	}
	if got := testutil.ToFloat64(Promise().feesAccrued.WithLabelValues("BBB")); got != joinerFeesBefore+250 {
		t.Fatalf("joiner asset fees: got %v want %v", got, joinerFeesBefore+250)
	}

	emitter.Emit(payloadEvent{&types.Event{Type: "farm.position_executed", Attributes: map[string]string{
		"pool":       "3",
		"id":         "1",
		"harvested":  "1000",
		"poolWeight": "100000",
	}}})
	if got := testutil.ToFloat64(Farm().rewardsPaid); got != rewardsBefore+1000 {
		t.Fatalf("rewards paid: got %v want %v", got, rewardsBefore+1000)
	}
	if got := testutil.ToFloat64(Farm().poolWeight.WithLabelValues("3")); got != 100_000 {
		t.Fatalf("pool weight gauge: got %v want 100000", got)
	}
}

func TestEmitterToleratesNilNext(t *testing.T) {
	emitter := NewEmitter(nil)
	emitter.Emit(staticEvent("promise.paid"))

	var nilEmitter *Emitter
	nilEmitter.Emit(staticEvent("promise.paid"))
}
