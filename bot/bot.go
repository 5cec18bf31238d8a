package bot

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
)

const presence = "your daily rewards and resin"

// Start opens the gateway session used to deliver check-in and reminder
// messages.
func Start(token string, log logrus.FieldLogger) (*discordgo.Session, error) {
	if token == "" {
		return nil, errors.New("discord token is not set")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds
	session.ShouldReconnectOnError = true

	session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		log.Infof("Logged in as %s#%s in %d guilds", r.User.Username, r.User.Discriminator, len(r.Guilds))
		if err := s.UpdateWatchStatus(0, presence); err != nil {
			log.WithError(err).Error("Error setting presence")
		}
	})
	session.AddHandler(func(s *discordgo.Session, d *discordgo.Disconnect) {
		log.Warn("Discord gateway disconnected")
	})

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("error connecting to gateway: %w", err)
	}
	return session, nil
}
