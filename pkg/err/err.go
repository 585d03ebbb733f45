package errprocess

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"realtime_chat_service/pkg/logger"
)

// Kind groups errors by how the caller must react
type Kind string

const (
	// KindAuth bad or missing credentials, fatal for a connection
	KindAuth Kind = "auth"
	// KindValidation payload is missing required fields
	KindValidation Kind = "validation"
	// KindNotFound room, message or chunk absent
	KindNotFound Kind = "not_found"
	// KindStore persistence failure
	KindStore Kind = "store"
	// KindShardCapacity shard is full, handled internally by rolling over
	KindShardCapacity Kind = "shard_capacity"
)

// Error is the service error type
type Error struct {
	Kind   Kind
	Code   string
	Msg    string
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if len(e.Fields) > 0 {
		msg = fmt.Sprintf("%s: %s", msg, strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap expose the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is match on kind and code so wrapped copies still equal their sentinel
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap return a copy of e carrying cause
func (e *Error) Wrap(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

// Public is the message safe to show to a client, causes are never included
func (e *Error) Public() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s", e.Msg, strings.Join(e.Fields, ", "))
	}
	return e.Msg
}

var (
	// ErrMissingCredentials access token or device id absent
	ErrMissingCredentials = &Error{Kind: KindAuth, Code: "missing_credentials", Msg: "access token and device id are required"}
	// ErrInvalidToken signature or expiry check failed
	ErrInvalidToken = &Error{Kind: KindAuth, Code: "invalid_token", Msg: "invalid or expired access token"}
	// ErrDeviceMismatch token is bound to another device
	ErrDeviceMismatch = &Error{Kind: KindAuth, Code: "device_mismatch", Msg: "token was not issued for this device"}
	// ErrIdentityNotFound no active session for the token
	ErrIdentityNotFound = &Error{Kind: KindAuth, Code: "identity_not_found", Msg: "no active session for this token"}

	// ErrRoomsNotFound user has no rooms to join
	ErrRoomsNotFound = &Error{Kind: KindNotFound, Code: "rooms_not_found", Msg: "user has no rooms"}
	// ErrRoomNotFound room absent from the directory or the store
	ErrRoomNotFound = &Error{Kind: KindNotFound, Code: "room_not_found", Msg: "room not found"}
	// ErrMessageNotFound no chunk contains the message id
	ErrMessageNotFound = &Error{Kind: KindNotFound, Code: "message_not_found", Msg: "message not found"}
	// ErrMemberNotFound user is not a member of the room record
	ErrMemberNotFound = &Error{Kind: KindNotFound, Code: "member_not_found", Msg: "member not found in room"}
	// ErrRoomNotJoined connection did not join the room it addressed
	ErrRoomNotJoined = &Error{Kind: KindNotFound, Code: "room_not_joined", Msg: "room is not joined on this connection"}

	// ErrStoreUnavailable store call timed out
	ErrStoreUnavailable = &Error{Kind: KindStore, Code: "store_unavailable", Msg: "store unavailable"}
	// ErrStoreFailure any other persistence failure
	ErrStoreFailure = &Error{Kind: KindStore, Code: "store_failure", Msg: "store operation failed"}

	// ErrShardCapacity selected shard holds the maximum number of rooms
	ErrShardCapacity = &Error{Kind: KindShardCapacity, Code: "shard_full", Msg: "shard is at capacity"}
)

// Validation build a validation error for event listing the offending fields
func Validation(event string, fields ...string) *Error {
	return &Error{
		Kind:   KindValidation,
		Code:   "invalid_payload",
		Msg:    fmt.Sprintf("invalid %s payload", event),
		Fields: fields,
	}
}

// Invalid build a validation error with a free form reason
func Invalid(reason string) *Error {
	return &Error{Kind: KindValidation, Code: "invalid_payload", Msg: reason}
}

// Store classify a persistence error, errors already classified pass through
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var timeout interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
		return ErrStoreUnavailable.Wrap(fmt.Errorf("%s: %w", op, err))
	}
	return ErrStoreFailure.Wrap(fmt.Errorf("%s: %w", op, err))
}

// KindOf return the kind of err, unknown errors count as store failures
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// Public return the client safe text for err
func Public(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Public()
	}
	return ErrStoreFailure.Msg
}

// HTTPStatus map err to a response status
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuth:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Set log errMsg and return it as an error
func Set(errMsg string) error {
	logger.Log.Error(errMsg)
	return errors.New(errMsg)
}
