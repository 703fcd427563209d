package userstatus

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// Store is the keyed persistence the service reads and writes through.
// Lookups report absence through the found flag rather than an error.
// Listing reads never return backup records.
type Store interface {
	FindByUserID(ctx context.Context, userID string, backup bool) (rec Record, found bool, err error)
	FindByUserIDs(ctx context.Context, userIDs []string) ([]Record, error)
	FindAll(ctx context.Context, limit, offset int) ([]Record, error)
	FindAllRecent(ctx context.Context, limit, offset int) ([]Record, error)
	Insert(ctx context.Context, rec Record) (Record, error)
	Update(ctx context.Context, rec Record) (Record, error)
	Delete(ctx context.Context, rec Record) error
}

// MessageCatalog resolves predefined status messages.
type MessageCatalog interface {
	Lookup(id string) (message, icon string, ok bool)
	IsValidID(id string) bool
}

// IconValidator decides whether a user-supplied icon is a single acceptable glyph.
type IconValidator interface {
	IsValidGlyph(s string) bool
}

// Visibility holds the cross-user enumeration policy. Listing reads return
// nothing unless enumeration is allowed without restriction.
type Visibility struct {
	EnumerationAllowed bool
	RestrictToGroup    bool
	RestrictToPhone    bool
}

func (v Visibility) listingsHidden() bool {
	return !v.EnumerationAllowed || v.RestrictToGroup || v.RestrictToPhone
}

// Config configures a Service.
type Config struct {
	Visibility Visibility
}

// DefaultConfig allows unrestricted enumeration.
func DefaultConfig() Config {
	return Config{Visibility: Visibility{EnumerationAllowed: true}}
}

// Service implements status and message mutation, read-time normalization and
// the backup/restore state machine. It holds no locks; the store's key
// uniqueness is the final arbiter between concurrent first writes.
type Service struct {
	store   Store
	catalog MessageCatalog
	icons   IconValidator
	clock   Clock
	cfg     Config
	logger  zerolog.Logger
}

// NewService creates a Service. A nil clock falls back to the system clock.
func NewService(
	cfg Config,
	store Store,
	catalog MessageCatalog,
	icons IconValidator,
	clock Clock,
	logger zerolog.Logger,
) (*Service, error) {
	if store == nil {
		return nil, errors.New("status store cannot be nil")
	}
	if catalog == nil {
		return nil, errors.New("message catalog cannot be nil")
	}
	if icons == nil {
		return nil, errors.New("icon validator cannot be nil")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{
		store:   store,
		catalog: catalog,
		icons:   icons,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With().Str("component", "StatusService").Logger(),
	}, nil
}

func (s *Service) now() int64 {
	return s.clock.Now().Unix()
}

// FindAll returns every live status, normalized. It returns an empty result
// when the visibility policy restricts enumeration.
func (s *Service) FindAll(ctx context.Context, limit, offset int) ([]View, error) {
	if s.cfg.Visibility.listingsHidden() {
		return []View{}, nil
	}
	records, err := s.store.FindAll(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list statuses: %w", err)
	}
	return s.processAll(ctx, records)
}

// FindAllRecentStatusChanges returns live statuses ordered by most recent
// status change, normalized, under the same visibility policy as FindAll.
func (s *Service) FindAllRecentStatusChanges(ctx context.Context, limit, offset int) ([]View, error) {
	if s.cfg.Visibility.listingsHidden() {
		return []View{}, nil
	}
	records, err := s.store.FindAllRecent(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent statuses: %w", err)
	}
	return s.processAll(ctx, records)
}

// FindByUserID returns the normalized live status of userID, or an error
// wrapping ErrStatusNotFound when the user has none.
func (s *Service) FindByUserID(ctx context.Context, userID string) (View, error) {
	if IsReservedUserID(userID) {
		return View{}, fmt.Errorf("%w: %s", ErrStatusNotFound, userID)
	}
	rec, found, err := s.store.FindByUserID(ctx, userID, false)
	if err != nil {
		return View{}, fmt.Errorf("failed to find status of %s: %w", userID, err)
	}
	if !found {
		return View{}, fmt.Errorf("%w: %s", ErrStatusNotFound, userID)
	}
	return s.processStatus(ctx, rec)
}

// FindByUserIDs returns the normalized live statuses of the given users that have one.
func (s *Service) FindByUserIDs(ctx context.Context, userIDs []string) ([]View, error) {
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if !IsReservedUserID(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []View{}, nil
	}
	records, err := s.store.FindByUserIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to find statuses: %w", err)
	}
	return s.processAll(ctx, records)
}

// SetStatus sets the live status of userID. A zero statusTimestamp means now.
func (s *Service) SetStatus(ctx context.Context, userID string, status Status, statusTimestamp int64, isUserDefined bool) (Record, error) {
	if err := validateUserID(userID); err != nil {
		return Record{}, err
	}
	if !status.IsValid() {
		return Record{}, fmt.Errorf("%w: status-type %q is not supported", ErrInvalidStatusType, status)
	}
	if statusTimestamp == 0 {
		statusTimestamp = s.now()
	}

	rec, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	return s.save(ctx, rec.WithStatus(status, statusTimestamp, isUserDefined))
}

// SetPredefinedMessage selects a catalog message for userID. A zero clearAt
// means the message does not expire.
func (s *Service) SetPredefinedMessage(ctx context.Context, userID, messageID string, clearAt int64) (Record, error) {
	if err := validateUserID(userID); err != nil {
		return Record{}, err
	}
	if !s.catalog.IsValidID(messageID) {
		return Record{}, fmt.Errorf("%w: message-id %q is not supported", ErrInvalidMessageID, messageID)
	}
	if err := s.validateClearAt(clearAt); err != nil {
		return Record{}, err
	}

	rec, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	return s.save(ctx, rec.WithPredefinedMessage(messageID, clearAt))
}

// SetCustomMessage sets a free-form message for userID. An empty icon means
// no icon; a zero clearAt means the message does not expire.
func (s *Service) SetCustomMessage(ctx context.Context, userID, icon, message string, clearAt int64) (Record, error) {
	if err := validateUserID(userID); err != nil {
		return Record{}, err
	}
	if icon != "" && !s.icons.IsValidGlyph(icon) {
		return Record{}, fmt.Errorf("%w: %q is not a single glyph", ErrInvalidStatusIcon, icon)
	}
	if n := utf8.RuneCountInString(message); n > MaxMessageLength {
		return Record{}, fmt.Errorf("%w: %d characters, maximum is %d", ErrStatusMessageTooLong, n, MaxMessageLength)
	}
	if err := s.validateClearAt(clearAt); err != nil {
		return Record{}, err
	}

	rec, err := s.getOrCreate(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	return s.save(ctx, rec.WithCustomMessage(icon, message, clearAt))
}

// ClearStatus resets the live status of userID to an automatic OFFLINE.
// It reports false when the user has no live record.
func (s *Service) ClearStatus(ctx context.Context, userID string) (bool, error) {
	rec, found, err := s.findLive(ctx, userID)
	if err != nil || !found {
		return false, err
	}
	if _, err := s.update(ctx, rec.WithStatus(StatusOffline, 0, false)); err != nil {
		return false, err
	}
	return true, nil
}

// ClearMessage blanks the message of userID. It reports false when the user
// has no live record.
func (s *Service) ClearMessage(ctx context.Context, userID string) (bool, error) {
	rec, found, err := s.findLive(ctx, userID)
	if err != nil || !found {
		return false, err
	}
	if _, err := s.update(ctx, rec.WithoutMessage()); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveUserStatus deletes the live or backup record of userID and reports
// whether anything was deleted.
func (s *Service) RemoveUserStatus(ctx context.Context, userID string, isBackup bool) (bool, error) {
	if IsReservedUserID(userID) {
		return false, nil
	}
	rec, found, err := s.store.FindByUserID(ctx, userID, isBackup)
	if err != nil {
		return false, fmt.Errorf("failed to find status of %s: %w", userID, err)
	}
	if !found {
		return false, nil
	}
	if err := s.store.Delete(ctx, rec); err != nil {
		return false, fmt.Errorf("failed to delete status of %s: %w", userID, err)
	}
	return true, nil
}

// processStatus applies staleness decay and message expiry, persisting any
// change, then resolves the catalog message for presentation only.
func (s *Service) processStatus(ctx context.Context, rec Record) (View, error) {
	now := s.now()
	threshold := int64(StaleStatusThreshold.Seconds())

	var err error
	if rec.StatusTimestamp < now-threshold && (!rec.IsUserDefined || rec.Status == StatusOnline) {
		if rec, err = s.cleanStatus(ctx, rec); err != nil {
			return View{}, err
		}
	}
	if rec.ClearAt != 0 && rec.ClearAt < now {
		if rec, err = s.cleanStatusMessage(ctx, rec); err != nil {
			return View{}, err
		}
	}

	view := View{Record: rec, Message: rec.CustomMessage, Icon: rec.CustomIcon}
	if rec.MessageID != "" {
		if message, icon, ok := s.catalog.Lookup(rec.MessageID); ok {
			view.Message = message
			view.Icon = icon
		}
	}
	return view, nil
}

func (s *Service) processAll(ctx context.Context, records []Record) ([]View, error) {
	views := make([]View, 0, len(records))
	for _, rec := range records {
		view, err := s.processStatus(ctx, rec)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// cleanStatus decays rec to an automatic OFFLINE stamped now. Already-offline
// automatic records are left untouched.
func (s *Service) cleanStatus(ctx context.Context, rec Record) (Record, error) {
	if rec.Status == StatusOffline && !rec.IsUserDefined {
		return rec, nil
	}
	s.logger.Debug().Str("user_id", rec.UserID).Str("status", string(rec.Status)).Msg("Resetting stale status to offline.")
	return s.update(ctx, rec.WithStatus(StatusOffline, s.now(), false))
}

func (s *Service) cleanStatusMessage(ctx context.Context, rec Record) (Record, error) {
	s.logger.Debug().Str("user_id", rec.UserID).Int64("clear_at", rec.ClearAt).Msg("Clearing expired status message.")
	return s.update(ctx, rec.WithoutMessage())
}

func (s *Service) findLive(ctx context.Context, userID string) (Record, bool, error) {
	if IsReservedUserID(userID) {
		return Record{}, false, nil
	}
	rec, found, err := s.store.FindByUserID(ctx, userID, false)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to find status of %s: %w", userID, err)
	}
	return rec, found, nil
}

// getOrCreate returns the live record of userID, or a fresh default one.
func (s *Service) getOrCreate(ctx context.Context, userID string) (Record, error) {
	rec, found, err := s.findLive(ctx, userID)
	if err != nil {
		return Record{}, err
	}
	if !found {
		return NewRecord(userID), nil
	}
	return rec, nil
}

// save inserts records without identity and updates the rest.
func (s *Service) save(ctx context.Context, rec Record) (Record, error) {
	if !rec.HasIdentity() {
		saved, err := s.store.Insert(ctx, rec)
		if err != nil {
			return Record{}, fmt.Errorf("failed to insert status of %s: %w", rec.UserID, err)
		}
		return saved, nil
	}
	return s.update(ctx, rec)
}

func (s *Service) update(ctx context.Context, rec Record) (Record, error) {
	saved, err := s.store.Update(ctx, rec)
	if err != nil {
		return Record{}, fmt.Errorf("failed to update status of %s: %w", rec.UserID, err)
	}
	return saved, nil
}

func (s *Service) validateClearAt(clearAt int64) error {
	if clearAt != 0 && clearAt <= s.now() {
		return fmt.Errorf("%w: %d is not in the future", ErrInvalidClearAt, clearAt)
	}
	return nil
}

func validateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if IsReservedUserID(userID) {
		return fmt.Errorf("%w: %q starts with reserved prefix %q", ErrInvalidUserID, userID, BackupKeyPrefix)
	}
	return nil
}
