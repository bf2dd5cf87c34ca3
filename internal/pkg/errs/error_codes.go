/*
Package errs provides custom error types and application-level error code constants.

Codes identify protocol, membership and session failures both inside the server
and on the wire, where they travel in ERROR frames and HTTP envelopes.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request or invocation parameters failed validation.
	ErrInvalidParams = 1001

	// ErrUnsupportedMessageType indicates an inbound frame with an unknown invocation type.
	ErrUnsupportedMessageType = 1002

	// ErrInvalidJSONFormat indicates that a frame or request body is not valid JSON.
	ErrInvalidJSONFormat = 1003

	// ErrRateLimitExceeded indicates that the caller exceeded its connect or send rate.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Membership and Content Errors
const (
	// ErrAlreadyJoined indicates JoinChat on a connection that already holds an identity.
	ErrAlreadyJoined = 2101

	// ErrNotJoined indicates an invocation that needs an identity on a connection without one.
	ErrNotJoined = 2102

	// ErrTargetNotFound indicates that no active connection carries the target user name.
	ErrTargetNotFound = 2103

	// ErrConnectionClosed indicates an invocation on a connection that is no longer live.
	ErrConnectionClosed = 2104

	// ErrMessageContentTooLong indicates that the chat message exceeded the size limit.
	ErrMessageContentTooLong = 2201
)

// 3xxx: Authorization and Session Errors
const (
	// ErrNotAuthorized indicates a moderation action invoked by a non-Admin.
	ErrNotAuthorized = 3001

	// ErrCannotRemoveSelf indicates an Admin trying to remove its own connection.
	ErrCannotRemoveSelf = 3002

	// ErrSessionNotFound indicates that the session store holds no record for the connection.
	ErrSessionNotFound = 3101

	// ErrSessionStoreFailed indicates that the session store could not be reached.
	ErrSessionStoreFailed = 3102
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
