package server

import (
	"errors"

	"github.com/dcrodman/hl7mllp/internal/mllp"
)

var (
	// ErrInvalidConfig is wrapped by every *ConfigError.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMessageNotDefined is returned when a Request carries no message.
	ErrMessageNotDefined = errors.New("message not defined")
	// ErrResponseAlreadySent is returned by a second SendResponse call.
	ErrResponseAlreadySent = errors.New("response already sent")
	// ErrListenerClosed is reported when a Listener is closed before it could bind.
	ErrListenerClosed = errors.New("listener closed")
	// ErrFrameTooLarge is reported when a peer exceeds ListenerConfig.MaxFrameSize.
	ErrFrameTooLarge = mllp.ErrFrameTooLarge
)

// ConfigError describes an option that failed validation. The message is
// meant to be shown to whoever wrote the configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string { return e.Message }

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configError(field, message string) error {
	return &ConfigError{Field: field, Message: message}
}
