package flowtable

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrCollision is matched by every *CollisionError.
var ErrCollision = errors.New("flow already mapped")

// CollisionError is returned by Table.Insert when either side of the
// requested pair is already part of a mapping.
type CollisionError struct {
	Internal Flow
	External Flow
	// InternalTaken and ExternalTaken record which side collided.
	// Both are set when re-inserting an existing pair.
	InternalTaken bool
	ExternalTaken bool
}

func (e *CollisionError) Error() string {
	switch {
	case e.InternalTaken && e.ExternalTaken:
		return fmt.Sprintf("inserting %s <=> %s: both flows already mapped", e.Internal, e.External)
	case e.InternalTaken:
		return fmt.Sprintf("inserting %s <=> %s: internal flow already mapped", e.Internal, e.External)
	default:
		return fmt.Sprintf("inserting %s <=> %s: external flow already mapped", e.Internal, e.External)
	}
}

func (e *CollisionError) Is(target error) bool {
	return target == ErrCollision
}
