package auth

import (
	"time"
)

// APIKey is a tenant credential. The secret itself is never stored, only its hash.
type APIKey struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	AppID          string     `json:"appId"`
	AppName        string     `json:"appName,omitempty"`
	KeyHash        string     `json:"-"`
	KeyPrefix      string     `json:"keyPrefix"`
	IsActive       bool       `json:"isActive"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	IPRestrictions []string   `json:"ipRestrictions"`
	LastUsed       *time.Time `json:"lastUsed,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Expired reports whether the key is past its expiry at now
func (k *APIKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

// AllowList parses the key's IP restrictions. Rows written through this package
// are always valid; a corrupt row fails closed.
func (k *APIKey) AllowList() (IPAllowList, error) {
	return ParseIPAllowList(k.IPRestrictions)
}

// IssuedKey is returned from create and regenerate: the stored record plus the
// plaintext secret, shown exactly once.
type IssuedKey struct {
	*APIKey
	Key string `json:"key"`
}
