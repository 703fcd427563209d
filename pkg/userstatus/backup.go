package userstatus

import (
	"context"
	"fmt"
)

// BackupCurrentStatus moves the live record of userID into the backup key
// space so an automated status can take its place. It reports false when a
// backup already exists; at most one backup is kept per user.
func (s *Service) BackupCurrentStatus(ctx context.Context, userID string) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}

	_, hasBackup, err := s.store.FindByUserID(ctx, userID, true)
	if err != nil {
		return false, fmt.Errorf("failed to find backup status of %s: %w", userID, err)
	}
	if hasBackup {
		s.logger.Debug().Str("user_id", userID).Msg("Backup already exists, refusing to overwrite.")
		return false, nil
	}

	live, found, err := s.findLive(ctx, userID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	if _, err := s.update(ctx, live.AsBackup()); err != nil {
		return false, err
	}
	s.logger.Info().Str("user_id", userID).Str("status", string(live.Status)).Msg("Backed up user status.")
	return true, nil
}

// RevertUserStatus undoes an automated override. The backup is restored only
// while the live record still carries the expected message and status; on a
// mismatch the backup stays in place for a later revert. Without a backup the
// live record is cleaned: its status drops to an automatic OFFLINE and its
// message is cleared. It reports whether anything was written.
func (s *Service) RevertUserStatus(ctx context.Context, userID, expectedMessageID string, expectedStatus Status) (bool, error) {
	return s.revert(ctx, userID, expectedMessageID, expectedStatus, false)
}

// RevertOverride is RevertUserStatus for callers that may deliver the same
// revert more than once. Without a backup the live record is cleaned only
// while it still carries the expected message and status, so a repeated
// revert leaves an already restored status alone.
func (s *Service) RevertOverride(ctx context.Context, userID, expectedMessageID string, expectedStatus Status) (bool, error) {
	return s.revert(ctx, userID, expectedMessageID, expectedStatus, true)
}

func (s *Service) revert(ctx context.Context, userID, expectedMessageID string, expectedStatus Status, matchWithoutBackup bool) (bool, error) {
	if IsReservedUserID(userID) {
		return false, nil
	}

	backup, hasBackup, err := s.store.FindByUserID(ctx, userID, true)
	if err != nil {
		return false, fmt.Errorf("failed to find backup status of %s: %w", userID, err)
	}

	live, hasLive, err := s.findLive(ctx, userID)
	if err != nil {
		return false, err
	}

	matches := hasLive && live.MessageID == expectedMessageID && live.Status == expectedStatus

	if !hasBackup {
		if !hasLive {
			return false, nil
		}
		if matchWithoutBackup && !matches {
			s.logger.Debug().
				Str("user_id", userID).
				Str("expected_status", string(expectedStatus)).
				Str("live_status", string(live.Status)).
				Msg("No backup and live status differs from override, nothing to revert.")
			return false, nil
		}
		rec, err := s.cleanStatus(ctx, live)
		if err != nil {
			return false, err
		}
		if _, err := s.cleanStatusMessage(ctx, rec); err != nil {
			return false, err
		}
		return true, nil
	}

	if hasLive {
		if !matches {
			s.logger.Info().
				Str("user_id", userID).
				Str("expected_status", string(expectedStatus)).
				Str("live_status", string(live.Status)).
				Msg("Live status changed since override, keeping backup.")
			return false, nil
		}
		if err := s.store.Delete(ctx, live); err != nil {
			return false, fmt.Errorf("failed to delete overriding status of %s: %w", userID, err)
		}
	}

	if _, err := s.update(ctx, backup.AsLive()); err != nil {
		return false, err
	}
	s.logger.Info().Str("user_id", userID).Str("status", string(backup.Status)).Msg("Restored user status from backup.")
	return true, nil
}

// SetUserStatus applies an automated override carrying a predefined message.
// With createBackup the current live record is backed up first, and the call
// does nothing when a backup already exists. It reports whether a write happened.
func (s *Service) SetUserStatus(ctx context.Context, userID string, status Status, messageID string, createBackup bool) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}
	if !status.IsValid() {
		return false, fmt.Errorf("%w: status-type %q is not supported", ErrInvalidStatusType, status)
	}
	if !s.catalog.IsValidID(messageID) {
		return false, fmt.Errorf("%w: message-id %q is not supported", ErrInvalidMessageID, messageID)
	}

	var rec Record
	if createBackup {
		ok, err := s.BackupCurrentStatus(ctx, userID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		rec = NewRecord(userID)
	} else {
		var err error
		if rec, err = s.getOrCreate(ctx, userID); err != nil {
			return false, err
		}
	}

	rec = rec.WithStatus(status, s.now(), true).WithPredefinedMessage(messageID, 0)
	if _, err := s.save(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}
