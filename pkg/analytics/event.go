package analytics

import (
	"encoding/json"
	"time"
)

// Known metadata fields
const (
	MetaBrowser    = "browser"
	MetaOS         = "os"
	MetaScreenSize = "screenSize"
)

// Metadata is the open, client supplied metadata map of an event
type Metadata map[string]interface{}

func (m Metadata) str(key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Browser returns metadata.browser, empty when absent or not a string
func (m Metadata) Browser() string { return m.str(MetaBrowser) }

// OS returns metadata.os
func (m Metadata) OS() string { return m.str(MetaOS) }

// ScreenSize returns metadata.screenSize
func (m Metadata) ScreenSize() string { return m.str(MetaScreenSize) }

// Event is one persisted client-side occurrence. Events are append-only.
type Event struct {
	ID             string    `json:"eventId"`
	APIKeyID       string    `json:"-"`
	Event          string    `json:"event"`
	URL            string    `json:"url"`
	Referrer       string    `json:"referrer,omitempty"`
	Device         string    `json:"device,omitempty"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	TrackingUserID string    `json:"trackingUserId,omitempty"`
	SessionID      string    `json:"sessionId,omitempty"`
	PageTitle      string    `json:"pageTitle,omitempty"`
	PageLoadTime   *int64    `json:"pageLoadTime,omitempty"`
	Metadata       Metadata  `json:"metadata"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Day is the calendar day (UTC) the event is attributed to
func (e *Event) Day() string {
	return e.Timestamp.UTC().Format(dayLayout)
}

func (e *Event) metadataJSON() ([]byte, error) {
	if e.Metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Metadata)
}

// Summary is the result of summarizing one event type over a date range
type Summary struct {
	Event       string           `json:"event"`
	Count       int64            `json:"count"`
	UniqueUsers int64            `json:"uniqueUsers"`
	DeviceData  map[string]int64 `json:"deviceData"`
}

// DeviceDetails describes the device of a tracking user's latest event
type DeviceDetails struct {
	Device     string `json:"device,omitempty"`
	Browser    string `json:"browser,omitempty"`
	OS         string `json:"os,omitempty"`
	ScreenSize string `json:"screenSize,omitempty"`
}

// EventCount is one entry of a top-events list
type EventCount struct {
	Event string `json:"event"`
	Count int64  `json:"count"`
}

// UserStats summarises the activity of one tracking user
type UserStats struct {
	UserID        string        `json:"userId"`
	TotalEvents   int64         `json:"totalEvents"`
	DeviceDetails DeviceDetails `json:"deviceDetails"`
	IPAddress     string        `json:"ipAddress"`
	LastSeen      *time.Time    `json:"lastSeen"`
	TopEvents     []EventCount  `json:"topEvents"`
}
