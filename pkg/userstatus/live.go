package userstatus

import (
	"context"
	"fmt"
)

// UpdateLiveStatus applies an automatic presence report. A user-defined
// persistent status is never replaced. Otherwise the report wins when
// the current status is older than LiveStatusTimeout or ranks lower than the
// reported one. A zero timestamp means now. It reports whether a write happened.
func (s *Service) UpdateLiveStatus(ctx context.Context, userID string, status Status, timestamp int64) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}
	if !status.IsValid() {
		return false, fmt.Errorf("%w: status-type %q is not supported", ErrInvalidStatusType, status)
	}
	if timestamp == 0 {
		timestamp = s.now()
	}

	rec, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return false, err
	}

	if rec.IsUserDefined && rec.Status.IsPersistent() {
		return false, nil
	}

	timedOut := rec.StatusTimestamp < timestamp-int64(LiveStatusTimeout.Seconds())
	outranks := status.Priority() < rec.Status.Priority()
	if rec.HasIdentity() && !timedOut && !outranks {
		return false, nil
	}

	if _, err := s.save(ctx, rec.WithStatus(status, timestamp, false)); err != nil {
		return false, err
	}
	return true, nil
}
