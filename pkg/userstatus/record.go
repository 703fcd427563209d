// Package userstatus tracks the availability status and status message of each
// user, including time-based expiry of both and a backup/restore mechanism that
// lets automated signals temporarily override a manually chosen status.
package userstatus

import (
	"strings"
	"time"
)

// Status is a user's availability.
type Status string

const (
	StatusOnline    Status = "online"
	StatusAway      Status = "away"
	StatusDND       Status = "dnd"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

// PriorityOrderedStatuses lists every known status from highest to lowest priority.
var PriorityOrderedStatuses = []Status{
	StatusOnline,
	StatusAway,
	StatusDND,
	StatusInvisible,
	StatusOffline,
}

// PersistentStatuses are exempt from automatic decay while user-defined.
var PersistentStatuses = []Status{
	StatusAway,
	StatusDND,
	StatusInvisible,
}

const (
	// StaleStatusThreshold is the age after which an automatic (or ONLINE) status is reset on read.
	StaleStatusThreshold = 15 * time.Minute
	// LiveStatusTimeout is the age after which a reported live status always replaces the current one.
	LiveStatusTimeout = 5 * time.Minute
	// MaxMessageLength caps custom messages, counted in characters.
	MaxMessageLength = 80
	// BackupKeyPrefix marks the storage key of a backup record. Ordinary user IDs may not start with it.
	BackupKeyPrefix = "_"
)

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	return s.Priority() >= 0
}

// Priority returns the position of s in PriorityOrderedStatuses (0 is highest),
// or -1 for an unknown status.
func (s Status) Priority() int {
	for i, known := range PriorityOrderedStatuses {
		if known == s {
			return i
		}
	}
	return -1
}

// IsPersistent reports whether s survives automatic decay when user-defined.
func (s Status) IsPersistent() bool {
	for _, p := range PersistentStatuses {
		if p == s {
			return true
		}
	}
	return false
}

// StorageKey renders the unique storage key of a live or backup record.
func StorageKey(userID string, backup bool) string {
	if backup {
		return BackupKeyPrefix + userID
	}
	return userID
}

// IsReservedUserID reports whether userID collides with the backup key space.
func IsReservedUserID(userID string) bool {
	return strings.HasPrefix(userID, BackupKeyPrefix)
}

// Record is the stored status of one user. A zero ID means the record has not
// been persisted yet. Timestamps are epoch seconds; a zero ClearAt means the
// message never expires.
type Record struct {
	ID              int64  `json:"id"`
	UserID          string `json:"userId"`
	Status          Status `json:"status"`
	StatusTimestamp int64  `json:"statusTimestamp"`
	IsUserDefined   bool   `json:"isUserDefined"`
	IsBackup        bool   `json:"isBackup"`
	MessageID       string `json:"messageId,omitempty"`
	CustomIcon      string `json:"customIcon,omitempty"`
	CustomMessage   string `json:"customMessage,omitempty"`
	ClearAt         int64  `json:"clearAt,omitempty"`
}

// NewRecord returns the default, unpersisted record for userID.
func NewRecord(userID string) Record {
	return Record{
		UserID: userID,
		Status: StatusOffline,
	}
}

// Key returns the unique storage key of r.
func (r Record) Key() string {
	return StorageKey(r.UserID, r.IsBackup)
}

// HasIdentity reports whether the store has assigned r an ID.
func (r Record) HasIdentity() bool {
	return r.ID != 0
}

// HasMessage reports whether r carries a predefined or custom message.
func (r Record) HasMessage() bool {
	return r.MessageID != "" || r.CustomIcon != "" || r.CustomMessage != "" || r.ClearAt != 0
}

// WithStatus sets the status fields. The result always targets the live record.
func (r Record) WithStatus(status Status, timestamp int64, userDefined bool) Record {
	r.Status = status
	r.StatusTimestamp = timestamp
	r.IsUserDefined = userDefined
	r.IsBackup = false
	return r
}

// WithPredefinedMessage selects a catalog message and drops any custom message.
func (r Record) WithPredefinedMessage(messageID string, clearAt int64) Record {
	r.MessageID = messageID
	r.CustomIcon = ""
	r.CustomMessage = ""
	r.ClearAt = clearAt
	return r
}

// WithCustomMessage sets a free-form message and drops any catalog reference.
func (r Record) WithCustomMessage(icon, message string, clearAt int64) Record {
	r.MessageID = ""
	r.CustomIcon = icon
	r.CustomMessage = message
	r.ClearAt = clearAt
	return r
}

// WithoutMessage blanks every message field.
func (r Record) WithoutMessage() Record {
	return r.WithCustomMessage("", "", 0)
}

// AsBackup moves r into the backup key space.
func (r Record) AsBackup() Record {
	r.IsBackup = true
	return r
}

// AsLive moves r back into the live key space.
func (r Record) AsLive() Record {
	r.IsBackup = false
	return r
}

// View is a record as presented to callers: Message and Icon hold the custom
// text, or the catalog text when MessageID resolves. View is never persisted.
type View struct {
	Record
	Message string `json:"message,omitempty"`
	Icon    string `json:"icon,omitempty"`
}
