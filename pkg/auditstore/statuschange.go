package auditstore

import "time"

// StatusChange is one audit row: the outcome of applying a status event.
type StatusChange struct {
	EventID         string    `bigquery:"event_id" json:"eventId"`
	PubsubMessageID string    `bigquery:"pubsub_message_id" json:"pubsubMessageId"`
	UserID          string    `bigquery:"user_id" json:"userId"`
	Type            string    `bigquery:"type" json:"type"`
	Status          string    `bigquery:"status" json:"status"`
	StatusMessageID string    `bigquery:"status_message_id" json:"messageId,omitempty"`
	Applied         bool      `bigquery:"applied" json:"applied"`
	EventTime       time.Time `bigquery:"event_time" json:"eventTime"`
	ProcessedAt     time.Time `bigquery:"processed_at" json:"processedAt"`
}

// StatusChangeDateKey partitions archived rows by the UTC day they were processed.
func StatusChangeDateKey(c *StatusChange) string {
	return c.ProcessedAt.UTC().Format("2006/01/02")
}
