package hoyolab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
)

// Reward is the item handed out by a successful claim.
type Reward struct {
	Name   string
	Amount int
	Icon   string
}

// GeetestResult is a solved captcha attached to a claim retry.
type GeetestResult struct {
	Challenge string
	Validate  string
	Seccode   string
}

type signInfo struct {
	TotalSignDay int  `json:"total_sign_day"`
	IsSign       bool `json:"is_sign"`
}

type signHome struct {
	Awards []struct {
		Name string `json:"name"`
		Cnt  int    `json:"cnt"`
		Icon string `json:"icon"`
	} `json:"awards"`
}

type riskResult struct {
	RiskCode  int    `json:"risk_code"`
	GT        string `json:"gt"`
	Challenge string `json:"challenge"`
	Success   int    `json:"success"`
	IsRisk    bool   `json:"is_risk"`
}

type signResult struct {
	riskResult
	GTResult *riskResult `json:"gt_result"`
}

func (r *signResult) captcha() *CaptchaError {
	risk := r.riskResult
	if r.GTResult != nil {
		risk = *r.GTResult
	}
	if risk.IsRisk || (risk.GT != "" && risk.Success != 0) {
		return &CaptchaError{GT: risk.GT, Challenge: risk.Challenge}
	}
	return nil
}

// ClaimDailyReward claims today's check-in reward for game. A claim that was
// already made today returns an error matching ErrAlreadyClaimed.
func (c *Client) ClaimDailyReward(ctx context.Context, acct Account, game models.Game, geetest *GeetestResult) (*Reward, error) {
	if !game.Valid() {
		return nil, fmt.Errorf("unsupported game %q", game)
	}

	var reward *Reward
	err := c.withRetry(ctx, "daily-reward", func() error {
		var err error
		reward, err = c.claimOnce(ctx, acct, game, geetest)
		return err
	})
	return reward, err
}

func (c *Client) claimOnce(ctx context.Context, acct Account, game models.Game, geetest *GeetestResult) (*Reward, error) {
	region := RegionForUID(acct.UID)
	base := c.endpoints.DailyOverseas[game]
	if region == RegionChina {
		base = c.endpoints.DailyChina[game]
	}
	actID := actIDs[region][game]

	query := url.Values{"act_id": {actID}, "lang": {region.Language()}}
	if region == RegionChina {
		query.Set("region", ServerForUID(game, acct.UID))
		query.Set("uid", strconv.Itoa(acct.UID))
	}
	headers := generateHeaders(acct.Cookie, region)

	var info signInfo
	if err := c.getJSON(ctx, request{method: http.MethodGet, url: base + "/info", query: query, headers: headers, region: region}, &info); err != nil {
		return nil, err
	}

	var home signHome
	if err := c.getJSON(ctx, request{method: http.MethodGet, url: base + "/home", query: query, headers: headers, region: region}, &home); err != nil {
		return nil, err
	}

	if info.IsSign {
		return nil, &APIError{Retcode: -5003, Message: "already signed in today", Kind: KindAlreadyClaimed}
	}

	body := map[string]any{"act_id": actID, "lang": region.Language()}
	if region == RegionChina {
		body["region"] = ServerForUID(game, acct.UID)
		body["uid"] = strconv.Itoa(acct.UID)
	}
	postHeaders := generatePostHeaders(acct.Cookie, region, game)
	if geetest != nil {
		postHeaders["x-rpc-challenge"] = geetest.Challenge
		postHeaders["x-rpc-validate"] = geetest.Validate
		postHeaders["x-rpc-seccode"] = geetest.Seccode
	}

	var result signResult
	if err := c.getJSON(ctx, request{method: http.MethodPost, url: base + "/sign", body: body, headers: postHeaders, region: region}, &result); err != nil {
		return nil, err
	}
	if captcha := result.captcha(); captcha != nil {
		return nil, captcha
	}

	reward := &Reward{}
	if info.TotalSignDay >= 0 && info.TotalSignDay < len(home.Awards) {
		award := home.Awards[info.TotalSignDay]
		reward = &Reward{Name: award.Name, Amount: award.Cnt, Icon: award.Icon}
	}
	return reward, nil
}

func (c *Client) getJSON(ctx context.Context, req request, out any) error {
	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", req.url, err)
	}
	return nil
}
