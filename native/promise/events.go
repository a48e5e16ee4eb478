package promise

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"promchain/core/types"
)

const (
	EventTypePromiseCreated       = "promise.created"
	EventTypePromiseJoined        = "promise.joined"
	EventTypePromisePaid          = "promise.paid"
	EventTypePromiseExecuted      = "promise.executed"
	EventTypePromiseCancelled     = "promise.cancelled"
	EventTypePromisePendingClosed = "promise.pending_closed"
)

// NewCreatedEvent returns the canonical event payload for a newly opened
// promise.
func NewCreatedEvent(p *Promise) *types.Event { return newPromiseEvent(EventTypePromiseCreated, p) }

// NewJoinedEvent returns the canonical event payload emitted when a
// counterparty matches the position.
func NewJoinedEvent(p *Promise) *types.Event { return newPromiseEvent(EventTypePromiseJoined, p) }

// NewPaidEvent returns the event payload for a debt payment.
func NewPaidEvent(p *Promise, payer [20]byte, amount *big.Int) *types.Event {
	evt := newPromiseEvent(EventTypePromisePaid, p)
	evt.Attributes["payer"] = hex.EncodeToString(payer[:])
	if amount != nil {
		evt.Attributes["paid"] = amount.String()
	}
	return evt
}

// NewExecutedEvent returns the event payload for a settled promise. The
// fee amounts carried by the payload are denominated in the creator and
// joiner assets respectively.
func NewExecutedEvent(p *Promise, feeCreatorAsset, feeJoinerAsset *big.Int) *types.Event {
	evt := newPromiseEvent(EventTypePromiseExecuted, p)
	if feeCreatorAsset != nil {
		evt.Attributes["feeCreatorAsset"] = feeCreatorAsset.String()
	}
	if feeJoinerAsset != nil {
		evt.Attributes["feeJoinerAsset"] = feeJoinerAsset.String()
	}
	return evt
}

// NewCancelledEvent returns the event payload for a cancelled promise.
func NewCancelledEvent(p *Promise) *types.Event {
	return newPromiseEvent(EventTypePromiseCancelled, p)
}

// NewPendingClosedEvent returns the event payload emitted when the
// unmatched portion of an expired promise is settled.
func NewPendingClosedEvent(p *Promise, refundCreator, refundJoiner, feeCreatorAsset, feeJoinerAsset *big.Int) *types.Event {
	evt := newPromiseEvent(EventTypePromisePendingClosed, p)
	if refundCreator != nil {
		evt.Attributes["refundCreator"] = refundCreator.String()
	}
	if refundJoiner != nil {
		evt.Attributes["refundJoiner"] = refundJoiner.String()
	}
	if feeCreatorAsset != nil {
		evt.Attributes["feeCreatorAsset"] = feeCreatorAsset.String()
	}
	if feeJoinerAsset != nil {
		evt.Attributes["feeJoinerAsset"] = feeJoinerAsset.String()
	}
	return evt
}

func newPromiseEvent(eventType string, p *Promise) *types.Event {
	attrs := make(map[string]string)
	if p == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizePromise(p)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["creator"] = hex.EncodeToString(sanitized.Creator[:])
	attrs["creatorAsset"] = sanitized.CreatorAsset
	attrs["creatorAmount"] = sanitized.CreatorAmount.String()
	attrs["joinerAsset"] = sanitized.JoinerAsset
	attrs["joinerAmount"] = sanitized.JoinerAmount.String()
	attrs["expiration"] = strconv.FormatInt(sanitized.Expiration, 10)
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.Joined() {
		attrs["joiner"] = hex.EncodeToString(sanitized.Joiner[:])
	}
	if sanitized.Executed {
		attrs["executed"] = "true"
	}
	if sanitized.Cancelled {
		attrs["cancelled"] = "true"
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
