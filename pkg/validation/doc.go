// Package validation turns request payloads into typed structs and reports
// every problem as one human-readable message.
//
// Rules live in go-playground/validator struct tags; messages are looked up
// by "<json field>.<rule>":
//
//	type createApp struct {
//		AppName string `json:"appName" validate:"required"`
//		AppURL  string `json:"appUrl" validate:"omitempty,url"`
//	}
//
//	msgs := validation.Messages{
//		"appName.required": "App name is required",
//		"appName.type":     "App name must be a string",
//		"appUrl.url":       "App URL must be a valid URL",
//	}
//
//	verr := &validation.ValidationError{}
//	if err := validation.DecodeJSON(r.Body, &req, msgs, verr); err != nil {
//		return err // malformed JSON
//	}
//	if err := v.Struct(req, msgs, verr); err != nil {
//		return err
//	}
//	return verr.Err() // "App name is required, App URL must be a valid URL"
package validation
