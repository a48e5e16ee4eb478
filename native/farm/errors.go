package farm

import "errors"

var (
	ErrPoolNotFound       = errors.New("farm: pool not found")
	ErrPoolExpired        = errors.New("farm: pool expired")
	ErrStakeNotFound      = errors.New("farm: stake not found")
	ErrUnauthorized       = errors.New("farm: unauthorized")
	ErrRatioOutOfBounds   = errors.New("farm: ratio out of bounds")
	ErrInvalidRatioBounds = errors.New("farm: invalid ratio bounds")
	ErrInvalidReward      = errors.New("farm: invalid reward configuration")
)
