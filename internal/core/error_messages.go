package core

// # Error Codes Reference
//
// User-friendly error messages with codes for support reference. When users
// encounter errors, they can quote the code to support staff.
//
// # Runtime Errors (RT001-RT099)
//
//	RT001 - Not loaded: The rule engine has not been loaded yet
//	        Action: Load the rule engine, then try again
//	        Patterns: "runtime not loaded"
//
//	RT002 - Exited: The rule engine process stopped
//	        Action: Restart the service to reload the rule engine
//	        Patterns: "runtime process exited"
//
//	RT003 - No interpreter: The interpreter could not be started
//	        Action: Check RUNTIME_INTERPRETER or RUNTIME_CONTAINER_IMAGE
//	        Patterns: "executable file not found"
//
//	RT004 - Install failed: A package could not be installed
//	        Action: Check VALIDATOR_RELEASE and RUNTIME_EXTRA_MODULES
//	        Patterns: "install rule engine", "install extra module", "install "
//
// # Bridge Errors (BR001-BR099)
//
//	BR001 - Worker gone: The validation worker is no longer running
//	        Action: Restart the service
//	        Patterns: "bridge closed"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Busy: Another validation is in progress
//	         Action: Wait for it to finish and try again
//	         Patterns: "too many concurrent validation runs"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Too large: Upload exceeds the maximum size
//	          Action: Upload fewer or smaller files
//	          Patterns: "request body too large"
//
//	FILE002 - No file: No file was submitted
//	          Action: Select at least one file
//	          Patterns: "no files provided"
//
//	FILE003 - Too many files: Too many files were submitted
//	          Action: Submit fewer files per validation
//	          Patterns: "too many files"
//
//	FILE004 - Bad form: A form field could not be read
//	          Action: Check the request format
//	          Patterns: "invalid form field"
//
// # Artifact Errors (ART001-ART099)
//
//	ART001 - Not found: The requested report file does not exist
//	         Action: Export the report again
//	         Patterns: "artifact not found"
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Cancelled: Request was cancelled
//	         Patterns: "context canceled"
//
//	REQ002 - Timeout: Request timed out
//	         Patterns: "context deadline exceeded"
//
//	REQ003 - Rate limited: Too many requests from this client
//	         Patterns: "rate limit exceeded"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check the logs for the technical error.
//
// Patterns are matched case-insensitively using strings.Contains; the first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// Runtime
	{
		pattern: "runtime not loaded",
		msg: UserMessage{
			Message: "The rule engine has not been loaded yet",
			Action:  "Load the rule engine, then try again",
			Code:    "RT001",
		},
	},
	{
		pattern: "runtime process exited",
		msg: UserMessage{
			Message: "The rule engine process stopped",
			Action:  "Restart the service to reload the rule engine",
			Code:    "RT002",
		},
	},
	{
		pattern: "executable file not found",
		msg: UserMessage{
			Message: "The interpreter could not be started",
			Action:  "Check RUNTIME_INTERPRETER or RUNTIME_CONTAINER_IMAGE",
			Code:    "RT003",
		},
	},
	{
		pattern: "install rule engine",
		msg: UserMessage{
			Message: "The rule engine could not be installed",
			Action:  "Check VALIDATOR_RELEASE",
			Code:    "RT004",
		},
	},
	{
		pattern: "install extra module",
		msg: UserMessage{
			Message: "An extra module could not be installed",
			Action:  "Check RUNTIME_EXTRA_MODULES",
			Code:    "RT004",
		},
	},
	{
		pattern: "install ",
		msg: UserMessage{
			Message: "A support package could not be installed",
			Action:  "Check RUNTIME_BASE_PACKAGES and network access",
			Code:    "RT004",
		},
	},

	// Bridge
	{
		pattern: "bridge closed",
		msg: UserMessage{
			Message: "The validation worker is no longer running",
			Action:  "Restart the service",
			Code:    "BR001",
		},
	},

	// Validation
	{
		pattern: "too many concurrent validation runs",
		msg: UserMessage{
			Message: "Another validation is in progress",
			Action:  "Wait for it to finish and try again",
			Code:    "VAL001",
		},
	},

	// Files
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "Upload exceeds the maximum size",
			Action:  "Upload fewer or smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "no files provided",
		msg: UserMessage{
			Message: "No file was submitted",
			Action:  "Select at least one file",
			Code:    "FILE002",
		},
	},
	{
		pattern: "too many files",
		msg: UserMessage{
			Message: "Too many files were submitted",
			Action:  "Submit fewer files per validation",
			Code:    "FILE003",
		},
	},
	{
		pattern: "invalid form field",
		msg: UserMessage{
			Message: "A form field could not be read",
			Action:  "Check the request format",
			Code:    "FILE004",
		},
	},

	// Artifacts
	{
		pattern: "artifact not found",
		msg: UserMessage{
			Message: "The requested report file does not exist",
			Action:  "Export the report again",
			Code:    "ART001",
		},
	},

	// Requests
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try again; large submissions can take several minutes",
			Code:    "REQ002",
		},
	},
	{
		pattern: "rate limit exceeded",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Wait a minute and try again",
			Code:    "REQ003",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the first case-insensitive pattern match, or the ERR000
// fallback.
//
// Example:
//
//	msg := MapError(runtime.ErrNotReady)
//	// msg.Code == "RT001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
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

// IsUserFacing reports whether err matches a known pattern rather than the
// ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
