package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/errorhandler"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/hoyolab"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
)

// GameClient claims daily rewards.
type GameClient interface {
	ClaimDailyReward(ctx context.Context, acct hoyolab.Account, game models.Game, geetest *hoyolab.GeetestResult) (*hoyolab.Reward, error)
}

// ClaimAll claims the reward of every game in job and describes the result.
// It stops at the first maintenance answer.
func ClaimAll(ctx context.Context, client GameClient, job Job) Outcome {
	var (
		out   Outcome
		lines []string
	)

	for _, game := range job.Games {
		acct := hoyolab.Account{Cookie: job.User.Cookie(game), UID: job.User.UID(game)}
		reward, err := client.ClaimDailyReward(ctx, acct, game, job.Geetest)
		if err == nil {
			out.Claimed = append(out.Claimed, game)
			lines = append(lines, claimedLine(game, reward))
			continue
		}

		var captcha *hoyolab.CaptchaError
		switch {
		case errors.Is(err, hoyolab.ErrAlreadyClaimed):
			out.Claimed = append(out.Claimed, game)
			lines = append(lines, fmt.Sprintf("%s: already claimed today", game.DisplayName()))
		case errors.Is(err, hoyolab.ErrMaintenance):
			return Outcome{Maintenance: true}
		case errors.Is(err, hoyolab.ErrInvalidCredential), errors.Is(err, hoyolab.ErrDataNotPublic):
			out.Pause = true
			out.PauseReason = err.Error()
			lines = append(lines, fmt.Sprintf("%s: %s", game.DisplayName(), errorhandler.UserMessage(err)))
		case errors.As(err, &captcha):
			out.Captcha = captcha
			lines = append(lines, fmt.Sprintf("%s: %s", game.DisplayName(), errorhandler.UserMessage(err)))
		default:
			out.Failed = true
			lines = append(lines, fmt.Sprintf("%s: %s", game.DisplayName(), errorhandler.UserMessage(err)))
		}
	}

	out.Message = strings.Join(lines, "\n")
	return out
}

func claimedLine(game models.Game, reward *hoyolab.Reward) string {
	if reward == nil || reward.Name == "" {
		return fmt.Sprintf("%s: claimed today", game.DisplayName())
	}
	return fmt.Sprintf("%s: claimed today, got %dx %s", game.DisplayName(), reward.Amount, reward.Name)
}
