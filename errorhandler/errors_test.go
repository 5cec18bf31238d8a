package errorhandler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/errorhandler"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/hoyolab"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/testutil"
)

func TestFromVendor(t *testing.T) {
	tests := []struct {
		err        error
		category   errorhandler.ErrorCategory
		actionable bool
	}{
		{&hoyolab.APIError{Retcode: -100, Kind: hoyolab.KindInvalidCredential}, errorhandler.AuthenticationError, true},
		{&hoyolab.APIError{Retcode: 10102, Kind: hoyolab.KindDataNotPublic}, errorhandler.ValidationError, true},
		{&hoyolab.CaptchaError{GT: "gt"}, errorhandler.AuthenticationError, true},
		{&hoyolab.APIError{Retcode: 10101, Kind: hoyolab.KindRateLimited}, errorhandler.RateLimitError, false},
		{&hoyolab.APIError{Retcode: 503, Kind: hoyolab.KindMaintenance}, errorhandler.MaintenanceError, false},
		{&hoyolab.APIError{Retcode: 777, Message: "odd", Kind: hoyolab.KindGeneric}, errorhandler.APIError, false},
		{errors.New("dial tcp: connection refused"), errorhandler.NetworkError, false},
		{errors.New("boom"), errorhandler.UnknownError, false},
	}
	for _, tt := range tests {
		got := errorhandler.FromVendor(fmt.Errorf("claim: %w", tt.err), "daily")
		assert.Equal(t, tt.category, got.Category, tt.err.Error())
		assert.Equal(t, tt.actionable, got.IsUserActionable, tt.err.Error())
		assert.NotEmpty(t, got.UserMessage)
	}

	assert.Contains(t, errorhandler.UserMessage(&hoyolab.APIError{Retcode: 777, Message: "odd"}), "odd")
}

func TestReporter_CooldownAndActionable(t *testing.T) {
	log, _ := testutil.Logger()
	n := testutil.NewNotifier()
	r := errorhandler.NewReporter(n, []string{"admin-1", "admin-2"}, time.Minute, log)
	ctx := context.Background()

	msg, actionable := r.HandleError(ctx, &hoyolab.APIError{Retcode: -100, Kind: hoyolab.KindInvalidCredential})
	assert.True(t, actionable)
	assert.Contains(t, msg, "cookie")
	assert.Empty(t, n.Messages())

	_, actionable = r.HandleError(ctx, errors.New("boom"))
	assert.False(t, actionable)
	assert.Len(t, n.Messages(), 2)

	// same kind within the cooldown is held back
	_, _ = r.HandleError(ctx, errors.New("boom again"))
	assert.Len(t, n.Messages(), 2)
}
