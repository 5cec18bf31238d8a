package testutil

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
)

type SentMessage struct {
	ChannelID string
	Message   *discordgo.MessageSend
}

// Notifier records every message and fails sends to channels listed in Fail.
type Notifier struct {
	mu   sync.Mutex
	Sent []SentMessage
	Fail map[string]error
}

func NewNotifier() *Notifier {
	return &Notifier{Fail: make(map[string]error)}
}

func (n *Notifier) Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err, ok := n.Fail[channelID]; ok {
		return err
	}
	n.Sent = append(n.Sent, SentMessage{ChannelID: channelID, Message: msg})
	return nil
}

func (n *Notifier) Messages() []SentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]SentMessage(nil), n.Sent...)
}
