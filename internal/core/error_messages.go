// Package core provides the business logic for equipment dataset uploads.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// When users encounter errors, they can quote the error code to support staff
// for faster diagnosis.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds the upload size limit
//	          Action: Split the file into smaller files
//	FILE002 - Invalid CSV: File is not a valid CSV
//	          Action: Ensure file is comma-separated and quotes are balanced
//	FILE003 - Processing error: The file could not be read
//	          Action: Save the file as UTF-8 CSV and upload it again
//	FILE004 - No file: No file was provided
//	FILE005 - Empty file: The uploaded file is empty
//	FILE006 - Not a CSV: File must be a CSV
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL002 - No valid data: No row had all five fields and numeric readings
//	         Action: Fill in blank cells and remove units from numbers
//	VAL004 - Missing column: Required column is missing from CSV
//	         Action: Include Equipment Name, Type, Flowrate, Pressure, Temperature
//
// # Authentication Errors (AUTH001-AUTH099)
//
//	AUTH001 - Invalid credentials
//	AUTH002 - Missing credentials: username and password are required
//	AUTH003 - Username taken
//	AUTH004 - Registration closed
//	AUTH005 - Invalid token: the session is missing, expired or revoked
//	AUTH006 - Weak password
//
// # Dataset Errors (DS001-DS099)
//
//	DS001 - Dataset not found: absent, or owned by another user
//	DS002 - Unsupported export format
//
// # Database Errors (DB001-DB099)
//
//	DB004 - Connection refused
//	DB005 - Connection reset
//	DB006 - Timeout
//	DB007 - Deadlock
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - System busy: Too many uploads in progress
//	UPL004 - Request cancelled
//	UPL005 - Request timeout
//
// # Rate Limiting (RATE001) and Default (ERR000)
//
//	RATE001 - Too many requests
//	ERR000  - An unexpected error occurred; check logs for the technical error
//
// # Matching
//
// Typed errors (ingestion failures and the sentinels of this package and
// package auth) are matched first with errors.Is / ingest.KindOf. Anything
// else falls through to the pattern table, matched case-insensitively with
// strings.Contains; the first match wins.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/equipstat/internal/auth"
	"github.com/JonMunkholm/equipstat/internal/ingest"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var kindMessages = map[ingest.Kind]UserMessage{
	ingest.FileTooLarge: {
		Message: "File exceeds the upload size limit",
		Action:  "Split the file into smaller files",
		Code:    "FILE001",
	},
	ingest.MalformedFile: {
		Message: "File is not a valid CSV",
		Action:  "Ensure file is comma-separated and quotes are balanced",
		Code:    "FILE002",
	},
	ingest.ProcessingError: {
		Message: "The file could not be read",
		Action:  "Save the file as UTF-8 CSV and upload it again",
		Code:    "FILE003",
	},
	ingest.EmptyFile: {
		Message: "The uploaded file is empty",
		Action:  "Please upload a CSV file with data rows",
		Code:    "FILE005",
	},
	ingest.NoValidData: {
		Message: "No complete equipment rows were found",
		Action:  "Fill in blank cells and remove units from numeric columns",
		Code:    "VAL002",
	},
	ingest.MissingColumns: {
		Message: "Required column is missing from CSV",
		Action:  "Include Equipment Name, Type, Flowrate, Pressure and Temperature columns",
		Code:    "VAL004",
	},
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrNoFile, UserMessage{"No file provided", "Please select a CSV file to upload", "FILE004"}},
	{ErrNotCSV, UserMessage{"File must be a CSV", "Upload a file with a .csv extension", "FILE006"}},
	{ErrDatasetNotFound, UserMessage{"Dataset not found", "Check the dataset ID; only your own uploads are visible", "DS001"}},
	{ErrUnsupportedFormat, UserMessage{"Unsupported export format", "Use format=csv or format=parquet", "DS002"}},
	{ErrTooManyUploads, UserMessage{"System is busy processing other uploads", "Please wait a moment and try again", "UPL002"}},
	{auth.ErrInvalidCredentials, UserMessage{"Invalid credentials", "Check your username and password", "AUTH001"}},
	{auth.ErrMissingCredentials, UserMessage{"Please provide username and password", "Fill in both fields", "AUTH002"}},
	{auth.ErrUsernameTaken, UserMessage{"Username already exists", "Choose a different username", "AUTH003"}},
	{auth.ErrRegistrationClosed, UserMessage{"Registration is disabled", "Ask an administrator for an account", "AUTH004"}},
	{auth.ErrInvalidToken, UserMessage{"Authentication required", "Log in again to get a new token", "AUTH005"}},
	{auth.ErrWeakPassword, UserMessage{"Password is too short", "Use at least 8 characters", "AUTH006"}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// Specific patterns must come before general ones.
var errorPatterns = []errorPattern{
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "UPL004"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try uploading a smaller file or check your connection", "UPL005"}},
	{"timeout", UserMessage{"Operation timed out", "Try again later", "DB006"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message.
//
// Example:
//
//	msg := MapError(ErrNotCSV)
//	// msg.Code == "FILE006"
//	// msg.Message == "File must be a CSV"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if kind := ingest.KindOf(err); kind != 0 {
		if msg, ok := kindMessages[kind]; ok {
			return msg
		}
	}
	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
