package apps

import (
	"errors"
	"time"
)

var (
	// ErrAppNotFound is returned for missing apps and apps owned by another user
	ErrAppNotFound = errors.New("App not found")
	// ErrInvalidAppID is returned when an app id is not a UUID
	ErrInvalidAppID = errors.New("Invalid App ID format")
	// ErrAppInactive is returned when acting on a deactivated app's key
	ErrAppInactive = errors.New("App has been deactivated")
)

// App is a client application registered by a user
type App struct {
	ID          string    `json:"id"`
	UserID      string    `json:"-"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url,omitempty"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
