package errorhandler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/hoyolab"
)

type ErrorCategory int

const (
	NetworkError ErrorCategory = iota
	DatabaseError
	APIError
	ValidationError
	AuthenticationError
	RateLimitError
	DiscordError
	MaintenanceError
	UnknownError
)

func (c ErrorCategory) String() string {
	switch c {
	case NetworkError:
		return "network"
	case DatabaseError:
		return "database"
	case APIError:
		return "api"
	case ValidationError:
		return "validation"
	case AuthenticationError:
		return "authentication"
	case RateLimitError:
		return "rate_limit"
	case DiscordError:
		return "discord"
	case MaintenanceError:
		return "maintenance"
	default:
		return "unknown"
	}
}

type CustomError struct {
	Category         ErrorCategory
	OriginalErr      error
	UserMessage      string
	AdminMessage     string
	IsUserActionable bool
}

func (e *CustomError) Error() string {
	return e.OriginalErr.Error()
}

func (e *CustomError) Unwrap() error {
	return e.OriginalErr
}

func NewError(category ErrorCategory, err error, context string, userMsg string, isUserActionable bool) *CustomError {
	return &CustomError{
		Category:         category,
		OriginalErr:      err,
		UserMessage:      userMsg,
		AdminMessage:     fmt.Sprintf("%s: %v", context, err),
		IsUserActionable: isUserActionable,
	}
}

func NewNetworkError(err error, context string) *CustomError {
	return NewError(
		NetworkError,
		err,
		fmt.Sprintf("Network error: %s", context),
		"We're having trouble connecting to the game servers. Please try again later.",
		false,
	)
}

func NewDatabaseError(err error, context string) *CustomError {
	return NewError(
		DatabaseError,
		err,
		fmt.Sprintf("Database error: %s", context),
		"We're experiencing database issues. Please try again later.",
		false,
	)
}

func NewDiscordError(err error, context string) *CustomError {
	return NewError(
		DiscordError,
		err,
		fmt.Sprintf("Discord error: %s", context),
		"We're having trouble communicating with Discord. Please try again later.",
		false,
	)
}

// FromVendor categorizes an error returned by the game API client.
func FromVendor(err error, context string) *CustomError {
	var custom *CustomError
	if errors.As(err, &custom) {
		return custom
	}

	switch hoyolab.KindOf(err) {
	case hoyolab.KindInvalidCredential:
		return NewError(AuthenticationError, err, context,
			"Your cookie is invalid or has expired. Please set your cookie again.", true)
	case hoyolab.KindDataNotPublic:
		return NewError(ValidationError, err, context,
			"Your real-time notes are not public. Enable them in the HoYoLAB battle chronicle settings.", true)
	case hoyolab.KindCaptchaRequired:
		return NewError(AuthenticationError, err, context,
			"HoYoLAB asked for a captcha. Solve it with the link below, the next claim will use it.", true)
	case hoyolab.KindRateLimited:
		return NewError(RateLimitError, err, context,
			"The game servers are receiving too many requests. Please try again later.", false)
	case hoyolab.KindTransientDatabase:
		return NewError(APIError, err, context,
			"The game server database is busy. Please try again later.", false)
	case hoyolab.KindMaintenance:
		return NewError(MaintenanceError, err, context,
			"The game servers are under maintenance.", false)
	case hoyolab.KindAlreadyClaimed:
		return NewError(APIError, err, context, "Already claimed today.", true)
	}

	var apiErr *hoyolab.APIError
	if errors.As(err, &apiErr) {
		return NewError(APIError, err, fmt.Sprintf("HoYoLAB API error (%s)", context),
			fmt.Sprintf("An error occurred: %s", apiErr.Message), false)
	}
	if IsNetworkError(err) {
		return NewNetworkError(err, context)
	}
	return NewError(UnknownError, err, context, "An unexpected error occurred.", false)
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	return FromVendor(err, "").UserMessage
}

func IsNetworkError(err error) bool {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Category == NetworkError
	}
	msg := err.Error()
	return strings.Contains(msg, "network") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") || strings.Contains(msg, "request to")
}

func IsDatabaseError(err error) bool {
	var customErr *CustomError
	if errors.As(err, &customErr) {
		return customErr.Category == DatabaseError
	}
	return strings.Contains(err.Error(), "database") || strings.Contains(err.Error(), "sql")
}
