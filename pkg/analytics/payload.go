package analytics

import (
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tally/pkg/validation"
)

// EventPayload is the body of POST /analytics/collect
type EventPayload struct {
	Event          string   `json:"event" validate:"required"`
	URL            string   `json:"url" validate:"required,url,max=2048"`
	Referrer       string   `json:"referrer" validate:"omitempty,url,max=2048"`
	Device         string   `json:"device"`
	IPAddress      string   `json:"ipAddress" validate:"omitempty,ip"`
	Timestamp      string   `json:"timestamp" validate:"required,iso8601"`
	TrackingUserID string   `json:"trackingUserId"`
	SessionID      string   `json:"sessionId"`
	PageTitle      string   `json:"pageTitle"`
	PageLoadTime   *int64   `json:"pageLoadTime" validate:"omitempty,min=0"`
	Metadata       Metadata `json:"metadata"`
}

var eventMessages = validation.Messages{
	"event.required":      "Event name is required",
	"event.type":          "Event name must be a string",
	"url.required":        "URL is required",
	"url.url":             "URL must be valid",
	"url.max":             "URL must not exceed 2048 characters",
	"url.type":            "URL must be valid",
	"referrer.url":        "Referrer must be a valid URL",
	"referrer.max":        "Referrer must not exceed 2048 characters",
	"referrer.type":       "Referrer must be a valid URL",
	"device.type":         "Device must be a string",
	"ipAddress.ip":        "IP address must be valid",
	"ipAddress.type":      "IP address must be valid",
	"timestamp.required":  "Timestamp is required",
	"timestamp.iso8601":   "Timestamp must be a valid ISO 8601 date",
	"timestamp.type":      "Timestamp must be a valid ISO 8601 date",
	"trackingUserId.type": "Tracking user ID must be a string",
	"sessionId.type":      "Session ID must be a string",
	"pageTitle.type":      "Page title must be a string",
	"pageLoadTime.type":   "Page load time must be an integer",
	"pageLoadTime.min":    "Page load time must be a non-negative integer",
	"metadata.type":       "Metadata must be an object",
}

var metadataMessages = map[string]string{
	MetaBrowser:    "Browser must be a string",
	MetaOS:         "OS must be a string",
	MetaScreenSize: "Screen size must be a string",
}

var validate = validation.New()

// DecodeEvent reads and validates a collect request body. Every failed rule is
// reported, not just the first.
func DecodeEvent(r io.Reader) (EventPayload, error) {
	p, verr, err := decodePayload(r)
	if err != nil {
		return p, err
	}
	if err := p.check(verr); err != nil {
		return p, err
	}
	return p, verr.Err()
}

// decodePayload decodes the body. Wrong JSON types are collected on the returned
// ValidationError; only unreadable JSON is an error.
func decodePayload(r io.Reader) (EventPayload, *validation.ValidationError, error) {
	var p EventPayload
	verr := &validation.ValidationError{}
	if err := validation.DecodeJSON(r, &p, eventMessages, verr); err != nil {
		return p, verr, err
	}
	p.Event = strings.TrimSpace(p.Event)
	return p, verr, nil
}

// check applies the field rules and the metadata type checks
func (p EventPayload) check(verr *validation.ValidationError) error {
	if err := validate.Struct(p, eventMessages, verr); err != nil {
		return err
	}
	for _, key := range []string{MetaBrowser, MetaOS, MetaScreenSize} {
		if v, ok := p.Metadata[key]; ok && v != nil {
			if _, isString := v.(string); !isString {
				verr.Add(metadataMessages[key])
			}
		}
	}
	return nil
}

// toEvent builds the row for a validated payload
func (p EventPayload) toEvent(apiKeyID string, now time.Time) (*Event, error) {
	ts, err := validation.ParseISO8601(p.Timestamp)
	if err != nil {
		return nil, err
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = Metadata{}
	}
	return &Event{
		ID:             uuid.New().String(),
		APIKeyID:       apiKeyID,
		Event:          p.Event,
		URL:            p.URL,
		Referrer:       p.Referrer,
		Device:         p.Device,
		IPAddress:      p.IPAddress,
		Timestamp:      ts.UTC(),
		TrackingUserID: p.TrackingUserID,
		SessionID:      p.SessionID,
		PageTitle:      p.PageTitle,
		PageLoadTime:   p.PageLoadTime,
		Metadata:       metadata,
		CreatedAt:      now.UTC(),
	}, nil
}
