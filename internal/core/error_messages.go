package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/ingress"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/report"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
)

// UserMessage is an error rewritten for the person who uploaded the return.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	// Detail names the offending file and columns when known.
	Detail string `json:"detail,omitempty"`
	// Status is the HTTP status the error maps to.
	Status int `json:"-"`
}

type errorMapping struct {
	target error
	msg    UserMessage
}

var errorMappings = []errorMapping{
	{ingress.ErrNoFiles, UserMessage{
		Message: "No return files were uploaded",
		Action:  "Upload this year's return as CSV files or one XML file",
		Code:    "UPL001", Status: http.StatusBadRequest,
	}},
	{ingress.ErrMixedExtensions, UserMessage{
		Message: "Return files must all be CSV or all be XML",
		Action:  "Upload either the CSV extracts or the XML return, not both",
		Code:    "UPL002", Status: http.StatusBadRequest,
	}},
	{ingress.ErrUnsupportedFile, UserMessage{
		Message: "File type not supported",
		Action:  "Upload .csv or .xml returns and .csv or .xlsx lookups",
		Code:    "UPL003", Status: http.StatusBadRequest,
	}},
	{ingress.ErrUnmatchedColumns, UserMessage{
		Message: "A file's columns do not match any return table",
		Action:  "Check the column headers against the return guidance",
		Code:    "UPL004", Status: http.StatusUnprocessableEntity,
	}},
	{ingress.ErrAmbiguousColumns, UserMessage{
		Message: "A file's columns match more than one return table",
		Action:  "Remove extra columns so the file matches a single table",
		Code:    "UPL005", Status: http.StatusUnprocessableEntity,
	}},
	{ingress.ErrDuplicateTable, UserMessage{
		Message: "The same table was uploaded twice",
		Action:  "Upload each table once per year",
		Code:    "UPL006", Status: http.StatusUnprocessableEntity,
	}},
	{ingress.ErrMalformedFile, UserMessage{
		Message: "A file could not be read",
		Action:  "Check the file opens correctly and is not truncated",
		Code:    "UPL007", Status: http.StatusUnprocessableEntity,
	}},
	{ingress.ErrUnknownRole, UserMessage{
		Message: "File role not recognised",
		Action:  "Use this_year, prior_year, ch_lookup or scp_lookup",
		Code:    "UPL008", Status: http.StatusBadRequest,
	}},
	{ingress.ErrLookupCount, UserMessage{
		Message: "Wrong number of provider lookup files",
		Action:  "Upload one workbook with both sheets, or the two lookups separately",
		Code:    "LKP001", Status: http.StatusBadRequest,
	}},
	{ingress.ErrLookupLayout, UserMessage{
		Message: "Provider lookup layout not recognised",
		Action:  "Upload the children's homes and social care provider lists as published",
		Code:    "LKP002", Status: http.StatusUnprocessableEntity,
	}},
	{ingress.ErrLookupMissingData, UserMessage{
		Message: "Provider lookup is missing sheets or columns",
		Action:  "Check the lookup has not been edited",
		Code:    "LKP003", Status: http.StatusUnprocessableEntity,
	}},
	{datastore.ErrInvalidCollectionYear, UserMessage{
		Message: "Collection year not recognised",
		Action:  "Give the year as 2023/24 or 2023",
		Code:    "VAL001", Status: http.StatusBadRequest,
	}},
	{rules.ErrUnknownRule, UserMessage{
		Message: "Unknown rule code requested",
		Action:  "List the available codes for the ruleset and try again",
		Code:    "RULE001", Status: http.StatusBadRequest,
	}},
	{rules.ErrUnknownRuleset, UserMessage{
		Message: "Unknown ruleset version",
		Action:  "Choose one of the published ruleset versions",
		Code:    "RULE002", Status: http.StatusBadRequest,
	}},
	{report.ErrUnknownFormat, UserMessage{
		Message: "Report format not supported",
		Action:  "Choose json, csv, xlsx or html",
		Code:    "RPT001", Status: http.StatusBadRequest,
	}},
	{ErrTooManySessions, UserMessage{
		Message: "The validator is busy with other returns",
		Action:  "Please wait a moment and try again",
		Code:    "SES001", Status: http.StatusServiceUnavailable,
	}},
	{ErrSessionNotFound, UserMessage{
		Message: "Validation session not found",
		Action:  "Sessions expire; validate the return again",
		Code:    "SES002", Status: http.StatusNotFound,
	}},
	{context.Canceled, UserMessage{
		Message: "Validation was cancelled",
		Action:  "Please try again",
		Code:    "SES003", Status: 499,
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Validation timed out",
		Action:  "Try again, or validate fewer rules at once",
		Code:    "SES004", Status: http.StatusGatewayTimeout,
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

// MapError converts an error into a UserMessage. Upload errors also report
// the offending file and columns. Unknown errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	msg := defaultMessage
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			msg = m.msg
			break
		}
	}

	var ue *ingress.UploadError
	if errors.As(err, &ue) {
		var parts []string
		if ue.File != "" {
			parts = append(parts, "file "+ue.File)
		}
		if len(ue.Columns) > 0 {
			parts = append(parts, strings.Join(ue.Columns, ", "))
		}
		msg.Detail = strings.Join(parts, ": ")
	}
	return msg
}

// FormatUserError renders an error as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	s := fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
	if msg.Detail != "" {
		s += " [" + msg.Detail + "]"
	}
	return s
}

// IsUserFacing reports whether err maps to a specific message.
func IsUserFacing(err error) bool {
	return err != nil && MapError(err).Code != defaultMessage.Code
}
