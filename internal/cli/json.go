package cli

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"io/fs"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/secret"
	"github.com/sabakan-dev/sabakan/pkg/sshutil"
)

// Machine mode flag - when true, outputs JSON and suppresses human-friendly decorations
var machineMode bool

// MachineMode returns true if machine-readable output is enabled
func MachineMode() bool {
	return machineMode
}

// JSONEnvelope wraps command output in a consistent structure for machine parsing.
// All --json output should use this envelope.
type JSONEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *JSONError  `json:"error,omitempty"`
}

// JSONError provides structured error information for machine parsing.
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
	Cause      string `json:"cause,omitempty"`
}

// Error codes for machine-readable output.
const (
	ErrCodeConfigNotFound  = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid   = "CONFIG_INVALID"
	ErrCodeKeyEncrypted    = "SSH_KEY_ENCRYPTED"
	ErrCodeWrongPassphrase = "SSH_WRONG_PASSPHRASE"
	ErrCodeConnect         = "SSH_CONNECTION_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
	ErrCodeCommandFailed   = "COMMAND_FAILED"
	ErrCodeParse           = "PARSE_FAILED"
	ErrCodeConcurrency     = "CONCURRENCY"
	ErrCodeUnknown         = "UNKNOWN"
)

// WriteJSONSuccess writes a successful response with data to the writer.
func WriteJSONSuccess(w io.Writer, data interface{}) error {
	return writeJSONEnvelope(w, JSONEnvelope{
		Success: true,
		Data:    data,
	})
}

// WriteJSONFromError converts a Go error to a JSON error response.
func WriteJSONFromError(w io.Writer, err error) error {
	return writeJSONEnvelope(w, JSONEnvelope{
		Success: false,
		Error:   ErrorToJSON(err),
	})
}

func writeJSONEnvelope(w io.Writer, env JSONEnvelope) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// ErrorToJSON converts a Go error to a JSONError with appropriate code mapping.
func ErrorToJSON(err error) *JSONError {
	if err == nil {
		return nil
	}

	var encrypted *sshutil.EncryptedKeyError
	if stderrors.As(err, &encrypted) {
		return &JSONError{
			Code:       ErrCodeKeyEncrypted,
			Message:    encrypted.Error(),
			Suggestion: "Set SABAKAN_SSH_PASSPHRASE or add the key to ssh-agent.",
		}
	}

	var e *errors.Error
	if !stderrors.As(err, &e) {
		return &JSONError{
			Code:    ErrCodeUnknown,
			Message: errors.Summary(err),
		}
	}

	out := &JSONError{
		Code:       mapErrorCode(err, e),
		Message:    e.Message,
		Suggestion: e.Suggestion,
	}
	if e.Cause != nil {
		out.Cause = errors.Summary(e.Cause)
	}
	return out
}

// mapErrorCode maps internal error codes to machine-readable codes.
func mapErrorCode(err error, e *errors.Error) string {
	if secret.IsWrongPassphrase(err) {
		return ErrCodeWrongPassphrase
	}
	if errors.IsTimeout(err) {
		return ErrCodeTimeout
	}

	switch e.Code {
	case errors.ErrConfig:
		if e.Cause != nil && stderrors.Is(e.Cause, fs.ErrNotExist) {
			return ErrCodeConfigNotFound
		}
		return ErrCodeConfigInvalid
	case errors.ErrConnect:
		return ErrCodeConnect
	case errors.ErrExec:
		return ErrCodeCommandFailed
	case errors.ErrParse:
		return ErrCodeParse
	case errors.ErrConcurrency:
		return ErrCodeConcurrency
	}
	return ErrCodeUnknown
}
