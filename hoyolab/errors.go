package hoyolab

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindInvalidCredential
	KindCaptchaRequired
	KindRateLimited
	KindTransientDatabase
	KindAlreadyClaimed
	KindDataNotPublic
	KindMaintenance
)

var (
	ErrInvalidCredential = errors.New("invalid or expired cookie")
	ErrCaptchaRequired   = errors.New("captcha verification required")
	ErrRateLimited       = errors.New("too many requests")
	ErrTransientDatabase = errors.New("vendor database error")
	ErrAlreadyClaimed    = errors.New("daily reward already claimed")
	ErrDataNotPublic     = errors.New("real-time notes are not public")
	ErrMaintenance       = errors.New("vendor is under maintenance")
	ErrMissingUID        = errors.New("no UID registered for this game")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidCredential: ErrInvalidCredential,
	KindCaptchaRequired:   ErrCaptchaRequired,
	KindRateLimited:       ErrRateLimited,
	KindTransientDatabase: ErrTransientDatabase,
	KindAlreadyClaimed:    ErrAlreadyClaimed,
	KindDataNotPublic:     ErrDataNotPublic,
	KindMaintenance:       ErrMaintenance,
}

var retcodeKinds = map[int]ErrorKind{
	-100:   KindInvalidCredential,
	10001:  KindInvalidCredential,
	-10001: KindInvalidCredential,
	10103:  KindInvalidCredential,
	-5003:  KindAlreadyClaimed,
	2001:   KindAlreadyClaimed,
	10102:  KindDataNotPublic,
	-1:     KindTransientDatabase,
	1009:   KindTransientDatabase,
	10101:  KindRateLimited,
	-1004:  KindRateLimited,
	1034:   KindCaptchaRequired,
	10035:  KindCaptchaRequired,
}

// APIError is a non-zero retcode or an unexpected HTTP status returned by the
// vendor. errors.Is matches it against the sentinel of its Kind.
type APIError struct {
	Retcode int
	Message string
	Kind    ErrorKind
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hoyolab: retcode %d: %s", e.Retcode, e.Message)
}

func (e *APIError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// CaptchaError carries the geetest parameters the user has to solve before
// the claim can be retried.
type CaptchaError struct {
	GT        string
	Challenge string
}

func (e *CaptchaError) Error() string {
	return "hoyolab: captcha verification required"
}

func (e *CaptchaError) Is(target error) bool {
	return target == ErrCaptchaRequired
}

func newAPIError(retcode int, message string) *APIError {
	kind, ok := retcodeKinds[retcode]
	if !ok {
		kind = KindGeneric
	}
	if strings.Contains(strings.ToLower(message), "maintenance") {
		kind = KindMaintenance
	}
	return &APIError{Retcode: retcode, Message: message, Kind: kind}
}

func statusError(status int) error {
	switch status {
	case http.StatusTooManyRequests:
		return &APIError{Retcode: status, Message: http.StatusText(status), Kind: KindRateLimited}
	case http.StatusServiceUnavailable:
		return &APIError{Retcode: status, Message: http.StatusText(status), Kind: KindMaintenance}
	default:
		return &APIError{Retcode: status, Message: fmt.Sprintf("unexpected HTTP status %d", status), Kind: KindGeneric}
	}
}

// KindOf reports the kind of err. Errors that did not come from the vendor
// are KindGeneric.
func KindOf(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	var captchaErr *CaptchaError
	if errors.As(err, &captchaErr) {
		return KindCaptchaRequired
	}
	return KindGeneric
}

// retryable reports whether the retry wrapper should try again.
func retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTransientDatabase, KindGeneric:
		return !errors.Is(err, ErrMissingUID)
	}
	return false
}
