package statusevents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-userstatus/pkg/auditstore"
	"github.com/illmade-knight/go-userstatus/pkg/messagepipeline"
	"github.com/illmade-knight/go-userstatus/pkg/types"
	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
	"github.com/rs/zerolog"
)

// StatusApplier is the part of *userstatus.Service the pipeline drives.
type StatusApplier interface {
	UpdateLiveStatus(ctx context.Context, userID string, status userstatus.Status, timestamp int64) (bool, error)
	SetUserStatus(ctx context.Context, userID string, status userstatus.Status, messageID string, createBackup bool) (bool, error)
	RevertOverride(ctx context.Context, userID, expectedMessageID string, expectedStatus userstatus.Status) (bool, error)
}

// NewStatusEventTransformer returns a transformer that applies each event and
// emits its audit row.
//
// Undecodable payloads are forwarded to deadLetter (when non-nil) and skipped.
// Events the service rejects as invalid are skipped. Any other failure is
// returned so the message is redelivered.
func NewStatusEventTransformer(
	applier StatusApplier,
	deadLetter messagepipeline.SimplePublisher,
	logger zerolog.Logger,
) messagepipeline.MessageTransformer[auditstore.StatusChange] {
	logger = logger.With().Str("component", "StatusEventTransformer").Logger()

	return func(ctx context.Context, msg types.ConsumedMessage) (*auditstore.StatusChange, bool, error) {
		ev, err := DecodeEvent(msg.Payload)
		if err != nil {
			logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Discarding undecodable status event.")
			if deadLetter != nil {
				attrs := map[string]string{"reason": err.Error(), "original_msg_id": msg.ID}
				if pubErr := deadLetter.Publish(ctx, msg.Payload, attrs); pubErr != nil {
					logger.Error().Err(pubErr).Str("msg_id", msg.ID).Msg("Failed to dead-letter status event.")
				}
			}
			return nil, true, nil
		}

		applied, err := apply(ctx, applier, ev)
		if err != nil {
			if userstatus.IsValidationError(err) {
				logger.Warn().Err(err).Str("msg_id", msg.ID).Str("user_id", ev.UserID).Msg("Status event rejected.")
				return nil, true, nil
			}
			return nil, false, fmt.Errorf("failed to apply %s event for %s: %w", ev.Type, ev.UserID, err)
		}

		logger.Debug().
			Str("msg_id", msg.ID).
			Str("user_id", ev.UserID).
			Str("type", string(ev.Type)).
			Bool("applied", applied).
			Msg("Applied status event.")

		change := &auditstore.StatusChange{
			EventID:         uuid.NewString(),
			PubsubMessageID: msg.ID,
			UserID:          ev.UserID,
			Type:            string(ev.Type),
			Status:          string(ev.Status),
			StatusMessageID: ev.MessageID,
			Applied:         applied,
			ProcessedAt:     time.Now().UTC(),
		}
		if ev.Timestamp != 0 {
			change.EventTime = time.Unix(ev.Timestamp, 0).UTC()
		} else if !msg.PublishTime.IsZero() {
			change.EventTime = msg.PublishTime.UTC()
		}
		return change, false, nil
	}
}

// apply reports whether the service wrote anything.
func apply(ctx context.Context, applier StatusApplier, ev Event) (bool, error) {
	switch ev.Type {
	case EventLive:
		return applier.UpdateLiveStatus(ctx, ev.UserID, ev.Status, ev.Timestamp)
	case EventOverride:
		return applier.SetUserStatus(ctx, ev.UserID, ev.Status, ev.MessageID, true)
	case EventRevert:
		return applier.RevertOverride(ctx, ev.UserID, ev.MessageID, ev.Status)
	}
	return false, fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, ev.Type)
}
