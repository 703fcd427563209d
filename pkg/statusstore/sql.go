package statusstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/illmade-knight/go-userstatus/pkg/userstatus"
	"github.com/rs/zerolog"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SQLConfig holds the configuration for a relational status store.
type SQLConfig struct {
	// Driver is one of "postgres", "mysql" or "sqlite".
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// SQLConfigDefaults returns a configuration for a local SQLite file.
func SQLConfigDefaults() *SQLConfig {
	return &SQLConfig{
		Driver:       "sqlite",
		DSN:          "data/userstatus.db?_journal_mode=WAL&_busy_timeout=5000",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// statusRow is the table layout. UserKey carries the unique storage key.
type statusRow struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	UserID          string `gorm:"size:255;not null;index"`
	UserKey         string `gorm:"size:256;not null;uniqueIndex"`
	Status          string `gorm:"size:16;not null"`
	StatusTimestamp int64  `gorm:"not null;index"`
	IsUserDefined   bool   `gorm:"not null"`
	IsBackup        bool   `gorm:"not null"`
	MessageID       string `gorm:"size:255"`
	CustomIcon      string `gorm:"size:255"`
	CustomMessage   string `gorm:"type:text"`
	ClearAt         int64
}

func (statusRow) TableName() string { return "user_status" }

func rowFromRecord(rec userstatus.Record) statusRow {
	return statusRow{
		ID:              rec.ID,
		UserID:          rec.UserID,
		UserKey:         rec.Key(),
		Status:          string(rec.Status),
		StatusTimestamp: rec.StatusTimestamp,
		IsUserDefined:   rec.IsUserDefined,
		IsBackup:        rec.IsBackup,
		MessageID:       rec.MessageID,
		CustomIcon:      rec.CustomIcon,
		CustomMessage:   rec.CustomMessage,
		ClearAt:         rec.ClearAt,
	}
}

func (r statusRow) record() userstatus.Record {
	return userstatus.Record{
		ID:              r.ID,
		UserID:          r.UserID,
		Status:          userstatus.Status(r.Status),
		StatusTimestamp: r.StatusTimestamp,
		IsUserDefined:   r.IsUserDefined,
		IsBackup:        r.IsBackup,
		MessageID:       r.MessageID,
		CustomIcon:      r.CustomIcon,
		CustomMessage:   r.CustomMessage,
		ClearAt:         r.ClearAt,
	}
}

func records(rows []statusRow) []userstatus.Record {
	out := make([]userstatus.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out
}

// SQLStore is a StatusStore on a relational database through gorm.
type SQLStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewSQLStore opens the database described by cfg and migrates the status table.
func NewSQLStore(ctx context.Context, cfg *SQLConfig, logger zerolog.Logger) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.WithContext(ctx).AutoMigrate(&statusRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate user_status table: %w", err)
	}

	logger.Info().Str("driver", cfg.Driver).Msg("Connected to SQL status store.")
	return &SQLStore{
		db:     db,
		logger: logger.With().Str("component", "SQLStore").Logger(),
	}, nil
}

// FindByUserID returns the live or backup record of userID.
func (s *SQLStore) FindByUserID(ctx context.Context, userID string, backup bool) (userstatus.Record, bool, error) {
	var row statusRow
	err := s.db.WithContext(ctx).Where("user_key = ?", userstatus.StorageKey(userID, backup)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return userstatus.Record{}, false, nil
	}
	if err != nil {
		return userstatus.Record{}, false, fmt.Errorf("sql find for %s: %w", userID, err)
	}
	return row.record(), true, nil
}

// FindByUserIDs returns the live records of the given users, ordered by ID.
func (s *SQLStore) FindByUserIDs(ctx context.Context, userIDs []string) ([]userstatus.Record, error) {
	if len(userIDs) == 0 {
		return []userstatus.Record{}, nil
	}
	var rows []statusRow
	err := s.db.WithContext(ctx).
		Where("user_key IN ? AND is_backup = ?", userIDs, false).
		Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("sql find by user ids: %w", err)
	}
	return records(rows), nil
}

// FindAll returns live records ordered by ID.
func (s *SQLStore) FindAll(ctx context.Context, limit, offset int) ([]userstatus.Record, error) {
	return s.list(ctx, "id asc", limit, offset)
}

// FindAllRecent returns live records ordered by most recent status change.
func (s *SQLStore) FindAllRecent(ctx context.Context, limit, offset int) ([]userstatus.Record, error) {
	return s.list(ctx, "status_timestamp desc, id asc", limit, offset)
}

func (s *SQLStore) list(ctx context.Context, order string, limit, offset int) ([]userstatus.Record, error) {
	query := s.db.WithContext(ctx).Where("is_backup = ?", false).Order(order)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []statusRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sql list statuses: %w", err)
	}
	return records(rows), nil
}

// Insert stores rec and returns it with its assigned ID.
func (s *SQLStore) Insert(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	row := rowFromRecord(rec)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			return userstatus.Record{}, fmt.Errorf("%w: %s", ErrDuplicateKey, row.UserKey)
		}
		return userstatus.Record{}, fmt.Errorf("sql insert for %s: %w", rec.UserID, err)
	}
	return row.record(), nil
}

// Update overwrites every column of the row with rec.ID.
func (s *SQLStore) Update(ctx context.Context, rec userstatus.Record) (userstatus.Record, error) {
	row := rowFromRecord(rec)
	result := s.db.WithContext(ctx).Model(&statusRow{}).Where("id = ?", rec.ID).Updates(map[string]any{
		"user_id":          row.UserID,
		"user_key":         row.UserKey,
		"status":           row.Status,
		"status_timestamp": row.StatusTimestamp,
		"is_user_defined":  row.IsUserDefined,
		"is_backup":        row.IsBackup,
		"message_id":       row.MessageID,
		"custom_icon":      row.CustomIcon,
		"custom_message":   row.CustomMessage,
		"clear_at":         row.ClearAt,
	})
	if err := result.Error; err != nil {
		if isDuplicateKey(err) {
			return userstatus.Record{}, fmt.Errorf("%w: %s", ErrDuplicateKey, row.UserKey)
		}
		return userstatus.Record{}, fmt.Errorf("sql update for %s: %w", rec.UserID, err)
	}
	if result.RowsAffected == 0 {
		// MySQL reports changed rows, so an identical update also lands here.
		exists, err := s.exists(ctx, rec.ID)
		if err != nil {
			return userstatus.Record{}, err
		}
		if !exists {
			return userstatus.Record{}, fmt.Errorf("%w: id %d", ErrNoSuchRecord, rec.ID)
		}
	}
	return rec, nil
}

// Delete removes the row with rec.ID.
func (s *SQLStore) Delete(ctx context.Context, rec userstatus.Record) error {
	result := s.db.WithContext(ctx).Delete(&statusRow{}, rec.ID)
	if result.Error != nil {
		return fmt.Errorf("sql delete for %s: %w", rec.UserID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrNoSuchRecord, rec.ID)
	}
	return nil
}

func (s *SQLStore) exists(ctx context.Context, id int64) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&statusRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("sql count for id %d: %w", id, err)
	}
	return count > 0, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	s.logger.Info().Msg("Closing SQL status store...")
	return sqlDB.Close()
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
