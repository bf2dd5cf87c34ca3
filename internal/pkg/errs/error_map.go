package errs

import "net/http"

// errorMap holds the message and HTTP status for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx
	ErrInvalidParams:          {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMessageType: {Code: ErrUnsupportedMessageType, Message: "Unsupported message type: %s."},
	ErrInvalidJSONFormat:      {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:      {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx
	ErrAlreadyJoined:         {Code: ErrAlreadyJoined, Message: "This connection has already joined a chat."},
	ErrNotJoined:             {Code: ErrNotJoined, Message: "Join a chat first."},
	ErrTargetNotFound:        {Code: ErrTargetNotFound, Message: "User not found."},
	ErrConnectionClosed:      {Code: ErrConnectionClosed, Message: "Connection is closed."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long (max %d bytes)."},

	// 3xxx
	ErrNotAuthorized:      {Code: ErrNotAuthorized, Message: "Not authorized.", Status: http.StatusForbidden},
	ErrCannotRemoveSelf:   {Code: ErrCannotRemoveSelf, Message: "Cannot remove self.", Status: http.StatusForbidden},
	ErrSessionNotFound:    {Code: ErrSessionNotFound, Message: "Session not found."},
	ErrSessionStoreFailed: {Code: ErrSessionStoreFailed, Message: "Session store unavailable.", Status: http.StatusServiceUnavailable},

	// 5xxx
	ErrUnknown: {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
}
