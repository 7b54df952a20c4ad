package apps

import (
	"io"

	"github.com/platinummonkey/tally/pkg/auth"
	"github.com/platinummonkey/tally/pkg/validation"
)

// CreateAppRequest is the body of POST /auth/register
type CreateAppRequest struct {
	AppName        string   `json:"appName" validate:"required"`
	Description    string   `json:"description"`
	AppURL         string   `json:"appUrl" validate:"omitempty,url"`
	IPRestrictions []string `json:"ipRestrictions"`
}

// UpdateAppRequest is the body of PATCH /auth/apps/{appId}. Nil fields are left unchanged.
type UpdateAppRequest struct {
	AppName     *string `json:"appName" validate:"omitempty,min=1"`
	Description *string `json:"description"`
	AppURL      *string `json:"appUrl" validate:"omitempty,url"`
}

var appMessages = validation.Messages{
	"appName.required":    "App name is required",
	"appName.min":         "App name is required",
	"appName.type":        "App name must be a string",
	"description.type":    "Description must be a string",
	"appUrl.url":          "App URL must be a valid URL",
	"appUrl.type":         "App URL must be a valid URL",
	"ipRestrictions.type": "IP restrictions must be an array",
}

var validate = validation.New()

// DecodeCreateApp reads and validates a registration request
func DecodeCreateApp(r io.Reader) (CreateAppRequest, error) {
	var req CreateAppRequest
	verr := &validation.ValidationError{}
	if err := validation.DecodeJSON(r, &req, appMessages, verr); err != nil {
		return req, err
	}
	if err := validate.Struct(req, appMessages, verr); err != nil {
		return req, err
	}
	if len(req.IPRestrictions) > 0 {
		if err := auth.ValidateIPRestrictions(req.IPRestrictions); err != nil {
			verr.Add(auth.ErrInvalidIPRestriction.Error())
		}
	}
	return req, verr.Err()
}

// DecodeUpdateApp reads and validates an update request
func DecodeUpdateApp(r io.Reader) (UpdateAppRequest, error) {
	var req UpdateAppRequest
	verr := &validation.ValidationError{}
	if err := validation.DecodeJSON(r, &req, appMessages, verr); err != nil {
		return req, err
	}
	if err := validate.Struct(req, appMessages, verr); err != nil {
		return req, err
	}
	return req, verr.Err()
}

// ValidateAppID rejects ids that are not UUIDs
func ValidateAppID(appID string) error {
	if !validate.Var(appID, "required,uuid") {
		return ErrInvalidAppID
	}
	return nil
}
