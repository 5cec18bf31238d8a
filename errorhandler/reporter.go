package errorhandler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/KT-Yeh/Genshin-Discord-Bot-sub000/notifier"
)

const defaultUnexpectedMessage = "An unexpected error occurred. Our team has been notified and is working on it."

// Reporter logs errors and forwards the ones a user cannot act on to the
// admin channels. Repeated notifications of one kind are held back for a
// cooldown.
type Reporter struct {
	notifier notifier.Notifier
	channels []string
	cooldown time.Duration
	sent     *cache.Cache
	log      logrus.FieldLogger
}

func NewReporter(n notifier.Notifier, adminChannels []string, cooldown time.Duration, log logrus.FieldLogger) *Reporter {
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Reporter{
		notifier: n,
		channels: adminChannels,
		cooldown: cooldown,
		sent:     cache.New(cooldown, 2*cooldown),
		log:      log,
	}
}

// HandleError logs err and returns the message for the user and whether the
// user can fix the problem themselves.
func (r *Reporter) HandleError(ctx context.Context, err error) (string, bool) {
	customErr := FromVendor(err, "")
	r.log.WithError(customErr.OriginalErr).
		WithField("category", customErr.Category).
		WithField("userActionable", customErr.IsUserActionable).
		Error(customErr.AdminMessage)

	if !customErr.IsUserActionable {
		r.NotifyAdminWithCooldown(ctx, fmt.Sprintf("Critical error: %s", customErr.AdminMessage))
		if customErr.UserMessage != "" {
			return customErr.UserMessage, false
		}
		return defaultUnexpectedMessage, false
	}
	return customErr.UserMessage, true
}

func (r *Reporter) NotifyAdmin(ctx context.Context, message string) {
	if r == nil || r.notifier == nil {
		return
	}
	embed := &discordgo.MessageEmbed{
		Title:       "Admin Notification",
		Description: message,
		Color:       0xFF0000,
		Timestamp:   time.Now().Format(time.RFC3339),
	}
	r.Publish(ctx, &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}})
}

// NotifyAdminWithCooldown drops the notification when one starting with the
// same word was sent within the cooldown.
func (r *Reporter) NotifyAdminWithCooldown(ctx context.Context, message string) {
	if r == nil {
		return
	}
	key := "admin_" + strings.SplitN(message, " ", 2)[0]
	if _, found := r.sent.Get(key); found {
		r.log.Infof("Skipping admin notification '%s' due to cooldown", key)
		return
	}
	r.sent.Set(key, time.Now(), cache.DefaultExpiration)
	r.NotifyAdmin(ctx, message)
}

// Publish sends msg to every admin channel.
func (r *Reporter) Publish(ctx context.Context, msg *discordgo.MessageSend) {
	if r == nil || r.notifier == nil {
		return
	}
	for _, channelID := range r.channels {
		if err := r.notifier.Send(ctx, channelID, msg); err != nil {
			r.log.WithError(err).WithField("channel", channelID).Error("Failed to send admin notification")
		}
	}
}
