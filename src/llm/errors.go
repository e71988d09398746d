package llm

import (
	"net/http"
	"strings"
)

// ErrorKind classifies a failed Analysis Client call so callers can react
// without sniffing message text themselves.
type ErrorKind int

const (
	// ErrorOther covers network failures and everything the API reports
	// that is not one of the dedicated kinds.
	ErrorOther ErrorKind = iota
	// ErrorOutOfCredits means the account quota is exhausted.
	ErrorOutOfCredits
	// ErrorInvalidKey means the credential was rejected.
	ErrorInvalidKey
)

// ClientError is the typed failure returned from Analysis Client calls.
type ClientError struct {
	Kind    ErrorKind
	Message string
}

func (e *ClientError) Error() string { return e.Message }

// Sentinel substrings the upstream API embeds in error messages. They are
// matched once here, at the client boundary; nothing above this package
// inspects message text.
const (
	creditSentinel = "out of credits"
	keySentinel    = "invalid key"
)

func classifyMessage(msg string) ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, creditSentinel):
		return ErrorOutOfCredits
	case strings.Contains(lower, keySentinel):
		return ErrorInvalidKey
	default:
		return ErrorOther
	}
}

func newAPIError(apiErr *APIError) *ClientError {
	return &ClientError{
		Kind:    classifyMessage(apiErr.Message),
		Message: apiErr.Message,
	}
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorInvalidKey
	case http.StatusPaymentRequired:
		return ErrorOutOfCredits
	default:
		return ErrorOther
	}
}
