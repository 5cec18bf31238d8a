package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Notifier delivers a message to a chat channel.
type Notifier interface {
	Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error
}

type Discord struct {
	session *discordgo.Session
}

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func (d *Discord) Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	_, err := d.session.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	return err
}

var permanentCodes = map[int]bool{
	discordgo.ErrCodeUnknownChannel:               true,
	discordgo.ErrCodeMissingAccess:                true,
	discordgo.ErrCodeUnknownUser:                  true,
	discordgo.ErrCodeMissingPermissions:           true,
	discordgo.ErrCodeCannotSendMessagesToThisUser: true,
}

// ErrChannelGone can be returned by Notifier implementations when the
// destination no longer accepts messages.
var ErrChannelGone = errors.New("channel no longer reachable")

// IsPermanent reports whether retrying the send can never succeed: the
// channel was deleted, or the bot lost access to it.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrChannelGone) {
		return true
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Message != nil && permanentCodes[restErr.Message.Code] {
			return true
		}
		if restErr.Response != nil {
			switch restErr.Response.StatusCode {
			case http.StatusForbidden, http.StatusNotFound:
				return true
			}
		}
	}

	return isChannelError(err)
}

func isChannelError(err error) bool {
	return strings.Contains(err.Error(), "Missing Access") ||
		strings.Contains(err.Error(), "Unknown Channel") ||
		strings.Contains(err.Error(), "Missing Permissions")
}
