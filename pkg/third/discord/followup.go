package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// FollowUps 通过交互 token 发送后续消息
type FollowUps struct {
	session *discordgo.Session
}

func NewSession(botToken string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, errors.Wrap(err, "create discord session")
	}
	return s, nil
}

func NewFollowUps(s *discordgo.Session) *FollowUps {
	return &FollowUps{session: s}
}

// Send 发送后续消息并返回 Discord 创建的消息
func (f *FollowUps) Send(ctx context.Context, i *discordgo.Interaction, params *discordgo.WebhookParams) (*discordgo.Message, error) {
	msg, err := f.session.FollowupMessageCreate(i, true, params, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "send follow-up")
	}
	return msg, nil
}

// Edit 改写频道中已发出的消息
func (f *FollowUps) Edit(ctx context.Context, edit *discordgo.MessageEdit) error {
	if _, err := f.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "edit message %s", edit.ID)
	}
	return nil
}
