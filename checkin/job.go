package checkin

import (
	"errors"
	"time"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/database"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/hoyolab"
	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/models"
)

var (
	ErrAlreadyRunning = errors.New("daily reward cycle already running")
	errQueueClosed    = errors.New("queue closed")
)

const maxJobAttempts = 3

// Job is one user's claim for the current cycle.
type Job struct {
	UserID    string
	ChannelID string
	IsMention bool
	From      time.Time // next_checkin_time when the job was listed
	Games     []models.Game
	User      models.User
	Geetest   *hoyolab.GeetestResult
	Attempts  int
}

func jobFromDue(due database.DueCheckin) Job {
	return Job{
		UserID:    due.Pref.UserID,
		ChannelID: due.Pref.ChannelID,
		IsMention: due.Pref.IsMention,
		From:      due.Pref.NextCheckinTime,
		Games:     due.Pref.Games(),
		User:      due.User,
	}
}

// Outcome is what a claim produced for one job.
type Outcome struct {
	Message     string
	Pause       bool
	PauseReason string
	Maintenance bool
	Captcha     *hoyolab.CaptchaError
	Failed      bool
	Claimed     []models.Game // claimed now or earlier today
}

// RemoteRequest is the body of POST /daily-reward.
type RemoteRequest struct {
	UserID         string          `json:"user_id"`
	CookieDefault  string          `json:"cookie_default"`
	CookieGenshin  string          `json:"cookie_genshin"`
	CookieStarrail string          `json:"cookie_starrail"`
	UIDGenshin     int             `json:"uid_genshin"`
	UIDStarrail    int             `json:"uid_starrail"`
	HasGenshin     bool            `json:"has_genshin"`
	HasStarrail    bool            `json:"has_starrail"`
	Geetest        *GeetestPayload `json:"geetest,omitempty"`
}

type GeetestPayload struct {
	Challenge string `json:"challenge"`
	Validate  string `json:"validate"`
	Seccode   string `json:"seccode"`
}

type CaptchaPayload struct {
	GT        string `json:"gt"`
	Challenge string `json:"challenge"`
}

// RemoteResponse is the 200 body of POST /daily-reward.
type RemoteResponse struct {
	Message     string          `json:"message"`
	Pause       bool            `json:"pause"`
	PauseReason string          `json:"pause_reason,omitempty"`
	Maintenance bool            `json:"maintenance"`
	Failed      bool            `json:"failed,omitempty"`
	Captcha     *CaptchaPayload `json:"captcha,omitempty"`
	Claimed     []models.Game   `json:"claimed,omitempty"`
}

func (j *Job) Request() RemoteRequest {
	req := RemoteRequest{
		UserID:         j.UserID,
		CookieDefault:  string(j.User.CookieDefault),
		CookieGenshin:  string(j.User.CookieGenshin),
		CookieStarrail: string(j.User.CookieStarrail),
		UIDGenshin:     j.User.UIDGenshin,
		UIDStarrail:    j.User.UIDStarrail,
	}
	for _, g := range j.Games {
		switch g {
		case models.GameGenshin:
			req.HasGenshin = true
		case models.GameStarrail:
			req.HasStarrail = true
		}
	}
	if j.Geetest != nil {
		req.Geetest = &GeetestPayload{Challenge: j.Geetest.Challenge, Validate: j.Geetest.Validate, Seccode: j.Geetest.Seccode}
	}
	return req
}

// JobFromRequest rebuilds the job a remote worker host runs.
func JobFromRequest(req RemoteRequest) Job {
	pref := models.DailyCheckinPref{HasGenshin: req.HasGenshin, HasStarrail: req.HasStarrail}
	job := Job{
		UserID: req.UserID,
		Games:  pref.Games(),
		User: models.User{
			UserID:         req.UserID,
			CookieDefault:  models.CompressedText(req.CookieDefault),
			CookieGenshin:  models.CompressedText(req.CookieGenshin),
			CookieStarrail: models.CompressedText(req.CookieStarrail),
			UIDGenshin:     req.UIDGenshin,
			UIDStarrail:    req.UIDStarrail,
		},
	}
	if req.Geetest != nil {
		job.Geetest = &hoyolab.GeetestResult{Challenge: req.Geetest.Challenge, Validate: req.Geetest.Validate, Seccode: req.Geetest.Seccode}
	}
	return job
}

func (o Outcome) Response() RemoteResponse {
	resp := RemoteResponse{
		Message:     o.Message,
		Pause:       o.Pause,
		PauseReason: o.PauseReason,
		Maintenance: o.Maintenance,
		Failed:      o.Failed,
		Claimed:     o.Claimed,
	}
	if o.Captcha != nil {
		resp.Captcha = &CaptchaPayload{GT: o.Captcha.GT, Challenge: o.Captcha.Challenge}
	}
	return resp
}

func outcomeFromResponse(resp RemoteResponse) Outcome {
	o := Outcome{
		Message:     resp.Message,
		Pause:       resp.Pause,
		PauseReason: resp.PauseReason,
		Maintenance: resp.Maintenance,
		Failed:      resp.Failed,
		Claimed:     resp.Claimed,
	}
	if resp.Captcha != nil {
		o.Captcha = &hoyolab.CaptchaError{GT: resp.Captcha.GT, Challenge: resp.Captcha.Challenge}
	}
	return o
}
