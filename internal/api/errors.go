// Package api implements the request envelope, error taxonomy, client-version
// gate, and HTTP routing surface: components C7 and C8. It is a thin layer
// over internal/broker, internal/registry, internal/store, and internal/pdata;
// no business logic lives here, following the shape of the teacher's
// pkg/api/api0 package.
package api

import "fmt"

// ErrorCode is a stable identifier carried in a failure envelope's
// "error.enum" field. The set is closed: these fourteen values are the
// system's entire public error vocabulary, trimmed from the teacher's
// pkg/api/api0/errors.go superset (which additionally has STRYDER_PARSE,
// DUPLICATE_SERVER, CONNECTION_REJECTED, JSON_PARSE_ERROR,
// INTERNAL_SERVER_ERROR, BAD_REQUEST) down to the kinds this system's
// operations actually resolve to.
type ErrorCode string

const (
	ErrPlayerNotFound           ErrorCode = "PLAYER_NOT_FOUND"
	ErrUnauthorizedGameserver   ErrorCode = "UNAUTHORIZED_GAMESERVER"
	ErrInvalidPersistentData    ErrorCode = "INVALID_PERSISTENT_DATA"
	ErrStryderResponse          ErrorCode = "STRYDER_RESPONSE"
	ErrUnauthorizedGame         ErrorCode = "UNAUTHORIZED_GAME"
	ErrInvalidMasterserverToken ErrorCode = "INVALID_MASTERSERVER_TOKEN"
	ErrServerNotFound           ErrorCode = "SERVER_NOT_FOUND"
	ErrUnauthorizedPwd          ErrorCode = "UNAUTHORIZED_PWD"
	ErrBadGameserverResponse    ErrorCode = "BAD_GAMESERVER_RESPONSE"
	ErrNoGameserverResponse     ErrorCode = "NO_GAMESERVER_RESPONSE"
	ErrInvalidModInfo           ErrorCode = "INVALID_MOD_INFO"
	ErrMaxServersForIP          ErrorCode = "MAX_SERVERS_FOR_IP"
	ErrUnsupportedVersion       ErrorCode = "UNSUPPORTED_VERSION"
	ErrUnknown                  ErrorCode = "UNKNOWN"
)

// ErrorObj is the "error" field of a failure envelope.
type ErrorObj struct {
	Code    ErrorCode `json:"enum"`
	Message string    `json:"message"`
}

// Obj returns a bare ErrorObj with no message.
func (c ErrorCode) Obj() ErrorObj {
	return ErrorObj{Code: c}
}

// MessageObj returns an ErrorObj using the code's default message.
func (c ErrorCode) MessageObj() ErrorObj {
	return ErrorObj{Code: c, Message: c.Message()}
}

// MessageObjf is like MessageObj, but appends additional detail after ": ".
func (c ErrorCode) MessageObjf(format string, a ...interface{}) ErrorObj {
	return ErrorObj{Code: c, Message: c.Messagef(format, a...)}
}

// Message returns the default human-readable message for c.
func (c ErrorCode) Message() string {
	switch c {
	case ErrPlayerNotFound:
		return "Couldn't find player account"
	case ErrUnauthorizedGameserver:
		return "Game server is not authorized to make that request"
	case ErrInvalidPersistentData:
		return "Persistent data is invalid"
	case ErrStryderResponse:
		return "Got bad response from the platform oracle"
	case ErrUnauthorizedGame:
		return "Platform oracle couldn't confirm that this account owns the game"
	case ErrInvalidMasterserverToken:
		return "Invalid or expired masterserver token"
	case ErrServerNotFound:
		return "Couldn't find server"
	case ErrUnauthorizedPwd:
		return "Wrong password"
	case ErrBadGameserverResponse:
		return "Game server gave an invalid response"
	case ErrNoGameserverResponse:
		return "Couldn't reach game server"
	case ErrInvalidModInfo:
		return "Invalid mod info"
	case ErrMaxServersForIP:
		return "Too many servers registered for this IP"
	case ErrUnsupportedVersion:
		return "The version you are using is no longer supported"
	case ErrUnknown:
		return "Unknown error"
	default:
		return string(c)
	}
}

// Messagef returns Message() with additional text appended after ": ".
func (c ErrorCode) Messagef(format string, a ...interface{}) string {
	if format == "" {
		return c.Message()
	}
	return c.Message() + ": " + fmt.Sprintf(format, a...)
}
