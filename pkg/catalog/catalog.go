// Package catalog holds the predefined status messages and the glyph check
// applied to custom status icons.
package catalog

import (
	"time"
)

// ClearAtPolicy describes when a client should expire a predefined message by default.
type ClearAtPolicy struct {
	// Type is "period" or "end-of", or empty for no default.
	Type string `json:"type,omitempty"`
	// Period applies to "period".
	Period time.Duration `json:"period,omitempty"`
	// Time is "day" or "week" for "end-of".
	Time string `json:"time,omitempty"`
}

// Message is one entry of the catalog.
type Message struct {
	ID      string         `json:"id"`
	Icon    string         `json:"icon"`
	Message string         `json:"message"`
	ClearAt *ClearAtPolicy `json:"clearAt,omitempty"`
	// Visible entries are offered to users; hidden ones are only set by automation.
	Visible bool `json:"visible"`
}

// Predefined message IDs.
const (
	MeetingID    = "meeting"
	CommutingID  = "commuting"
	RemoteWorkID = "remote-work"
	SickLeaveID  = "sick-leave"
	VacationID   = "vacationing"
	CallID       = "call"
)

// DefaultMessages returns the built-in catalog.
func DefaultMessages() []Message {
	return []Message{
		{ID: MeetingID, Icon: "📅", Message: "In a meeting", Visible: true,
			ClearAt: &ClearAtPolicy{Type: "period", Period: time.Hour}},
		{ID: CommutingID, Icon: "🚌", Message: "Commuting", Visible: true,
			ClearAt: &ClearAtPolicy{Type: "period", Period: 30 * time.Minute}},
		{ID: RemoteWorkID, Icon: "🏡", Message: "Working remotely", Visible: true,
			ClearAt: &ClearAtPolicy{Type: "end-of", Time: "day"}},
		{ID: SickLeaveID, Icon: "🤒", Message: "Out sick", Visible: true,
			ClearAt: &ClearAtPolicy{Type: "end-of", Time: "day"}},
		{ID: VacationID, Icon: "🌴", Message: "Vacationing", Visible: true},
		{ID: CallID, Icon: "💬", Message: "In a call", Visible: false},
	}
}

// PredefinedCatalog resolves predefined message IDs. It is read-only after construction.
type PredefinedCatalog struct {
	ordered []Message
	byID    map[string]Message
}

// NewPredefinedCatalog builds a catalog from messages. Later duplicates replace earlier ones.
func NewPredefinedCatalog(messages []Message) *PredefinedCatalog {
	c := &PredefinedCatalog{byID: make(map[string]Message, len(messages))}
	for _, m := range messages {
		if _, dup := c.byID[m.ID]; !dup {
			c.ordered = append(c.ordered, m)
		} else {
			for i := range c.ordered {
				if c.ordered[i].ID == m.ID {
					c.ordered[i] = m
				}
			}
		}
		c.byID[m.ID] = m
	}
	return c
}

// NewDefaultCatalog returns a catalog of DefaultMessages.
func NewDefaultCatalog() *PredefinedCatalog {
	return NewPredefinedCatalog(DefaultMessages())
}

// Lookup returns the text and icon of id.
func (c *PredefinedCatalog) Lookup(id string) (string, string, bool) {
	m, ok := c.byID[id]
	if !ok {
		return "", "", false
	}
	return m.Message, m.Icon, true
}

// IsValidID reports whether id names a catalog entry, hidden or not.
func (c *PredefinedCatalog) IsValidID(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// All returns the visible entries in catalog order.
func (c *PredefinedCatalog) All() []Message {
	out := make([]Message, 0, len(c.ordered))
	for _, m := range c.ordered {
		if m.Visible {
			out = append(out, m)
		}
	}
	return out
}
