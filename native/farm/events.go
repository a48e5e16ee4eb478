package farm

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"promchain/core/types"
)

const (
	EventTypePoolAdded        = "farm.pool_added"
	EventTypePositionCreated  = "farm.position_created"
	EventTypeRewardClaimed    = "farm.reward_claimed"
	EventTypePositionExecuted = "farm.position_executed"
	EventTypePositionClosed   = "farm.position_closed"
)

// NewPoolAddedEvent emits the canonical payload for a newly registered
// pool.
func NewPoolAddedEvent(pid uint64, pool *Pool) *types.Event {
	attrs := map[string]string{
		"pool": strconv.FormatUint(pid, 10),
	}
	if sanitized, err := SanitizePool(pool); err == nil {
		attrs["creatorAsset"] = sanitized.CreatorAsset
		attrs["joinerAsset"] = sanitized.JoinerAsset
		attrs["allocPoint"] = strconv.FormatUint(sanitized.AllocPoint, 10)
		attrs["minRatio"] = sanitized.MinRatio.String()
		attrs["maxRatio"] = sanitized.MaxRatio.String()
		attrs["expiration"] = strconv.FormatInt(sanitized.Expiration, 10)
	}
	return &types.Event{Type: EventTypePoolAdded, Attributes: attrs}
}

// NewPositionCreatedEvent emits the payload for a promise opened through
// the farm.
func NewPositionCreatedEvent(pid, promiseID uint64, owner [20]byte, weight, harvested *big.Int) *types.Event {
	attrs := positionAttributes(pid, promiseID, owner, harvested)
	if weight != nil {
		attrs["weight"] = weight.String()
	}
	return &types.Event{Type: EventTypePositionCreated, Attributes: attrs}
}

// NewRewardClaimedEvent emits the payload for a reward claim.
func NewRewardClaimedEvent(pid, promiseID uint64, owner [20]byte, harvested *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRewardClaimed, Attributes: positionAttributes(pid, promiseID, owner, harvested)}
}

// NewPositionExecutedEvent emits the payload when a position leaves its
// pool through execution.
func NewPositionExecutedEvent(pid, promiseID uint64, owner [20]byte, harvested *big.Int) *types.Event {
	return &types.Event{Type: EventTypePositionExecuted, Attributes: positionAttributes(pid, promiseID, owner, harvested)}
}

// NewPositionClosedEvent emits the payload when a position leaves its
// pool through a pending-amount close.
func NewPositionClosedEvent(pid, promiseID uint64, owner [20]byte, harvested *big.Int) *types.Event {
	return &types.Event{Type: EventTypePositionClosed, Attributes: positionAttributes(pid, promiseID, owner, harvested)}
}

func positionAttributes(pid, promiseID uint64, owner [20]byte, harvested *big.Int) map[string]string {
	attrs := map[string]string{
		"pool":  strconv.FormatUint(pid, 10),
		"id":    strconv.FormatUint(promiseID, 10),
		"owner": hex.EncodeToString(owner[:]),
	}
	if harvested != nil && harvested.Sign() > 0 {
		attrs["harvested"] = harvested.String()
	}
	return attrs
}
