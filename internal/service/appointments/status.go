package appointments

import (
	"context"
	"errors"
	"fmt"

	"schedula/agenda/internal/domain"
)

var ErrIllegalTransition = errors.New("illegal status transition")

type TransitionError struct {
	From domain.Status
	To   domain.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move appointment from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// Transition moves current to target if the transition table allows it. The
// check happens before any backend call. The returned record is the
// backend's, not a locally patched copy.
func (s *Service) Transition(ctx context.Context, businessID string, current domain.Appointment, target domain.Status) (domain.Appointment, error) {
	if !target.Valid() {
		return domain.Appointment{}, validationError("unknown status " + string(target))
	}
	if !domain.CanTransition(current.Status, target) {
		return domain.Appointment{}, &TransitionError{From: current.Status, To: target}
	}
	if businessID == "" {
		businessID = current.BusinessID
	}
	return s.SetStatus(ctx, businessID, current.ID, target)
}
