package handlers

import (
	"bytes"
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"ddbridge/internal/models"
	"ddbridge/internal/session"
	"ddbridge/pkg/async"
	"ddbridge/pkg/third/discord"
)

const (
	actionVote     = "vote"
	actionComplete = "complete"
	actionPublish  = "publish"
	actionDelete   = "delete"
	actionBallot   = "ballot"
)

var componentCommands = map[string]models.CommandKind{
	actionComplete: models.CommandComplete,
	actionPublish:  models.CommandPublish,
	actionDelete:   models.CommandDelete,
}

type Verifier interface {
	Verify(ctx *fasthttp.RequestCtx) error
}

type Sessions interface {
	Execute(ctx context.Context, cmd session.Command) (*session.Reply, error)
	PromptBallot(ctx context.Context, localID, userID string) (*models.VotingSession, error)
	CheckCreator(ctx context.Context, cmd session.Command) error
	AttachAnnouncement(ctx context.Context, localID, messageID string) (*models.VotingSession, error)
}

// FollowUpSender 发送后续消息，并改写已发出的公告
type FollowUpSender interface {
	Send(ctx context.Context, i *discordgo.Interaction, params *discordgo.WebhookParams) (*discordgo.Message, error)
	Edit(ctx context.Context, edit *discordgo.MessageEdit) error
}

// InteractionHandle Discord 交互入口
type InteractionHandle struct {
	verifier  Verifier
	sessions  Sessions
	followUps FollowUpSender
	tracker   *async.Tracker
	// timeout 单次后续消息投递的超时
	timeout time.Duration
	// retryDelay 后续消息失败后的重试间隔
	retryDelay time.Duration
}

func NewInteractionHandle(v Verifier, s Sessions, f FollowUpSender, tracker *async.Tracker, timeout time.Duration) *InteractionHandle {
	return &InteractionHandle{
		verifier:   v,
		sessions:   s,
		followUps:  f,
		tracker:    tracker,
		timeout:    timeout,
		retryDelay: 500 * time.Millisecond,
	}
}

func RegisterInteractions(router fiber.Router, handler *InteractionHandle) {
	router.Post("/interactions", handler.Receive)
}

// Receive 校验签名后按交互类型分发
func (h *InteractionHandle) Receive(c *fiber.Ctx) error {
	if err := h.verifier.Verify(c.Context()); err != nil {
		log.Warn().Err(err).Str("ip", c.IP()).Msg("交互签名校验失败")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid request signature",
		})
	}

	// fasthttp 会复用请求缓冲区
	body := bytes.Clone(c.Body())

	var i discordgo.Interaction
	if err := json.Unmarshal(body, &i); err != nil {
		log.Warn().Err(err).Msg("无法解析交互")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "malformed interaction",
		})
	}

	switch i.Type {
	case discordgo.InteractionPing:
		return c.JSON(&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
	case discordgo.InteractionApplicationCommand:
		return h.command(c, &i)
	case discordgo.InteractionMessageComponent:
		return h.component(c, &i)
	case discordgo.InteractionModalSubmit:
		return h.modal(c, &i)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unsupported interaction type",
		})
	}
}

func (h *InteractionHandle) command(c *fiber.Ctx, i *discordgo.Interaction) error {
	data := i.ApplicationCommandData()
	switch data.Name {
	case discord.CommandPing:
		return c.JSON(immediate("pong", false))
	case discord.CommandVoting:
	default:
		return c.JSON(immediate("Unknown command.", true))
	}

	if len(data.Options) == 0 {
		return c.JSON(immediate("Pick a subcommand.", true))
	}
	sub := data.Options[0]
	kind, err := models.ParseCommandKind(sub.Name)
	if err != nil {
		return c.JSON(immediate("Unknown subcommand.", true))
	}

	cmd := baseCommand(i, kind)
	switch kind {
	case models.CommandStart:
		// 按 choiceN 的序号排列，与用户填写顺序无关
		cmd.Options = make([]string, discord.MaxChoices)
		for _, o := range sub.Options {
			if o.Name == discord.OptionName {
				cmd.Name = o.StringValue()
				continue
			}
			if n := discord.ChoiceIndex(o.Name); n > 0 {
				cmd.Options[n-1] = o.StringValue()
			}
		}
	case models.CommandVote:
		for _, o := range sub.Options {
			if o.Name == discord.OptionRanking {
				cmd.Ranking = session.SplitRanking(o.StringValue())
			}
		}
	}
	return h.deferred(c, i, cmd, kind == models.CommandVote)
}

func (h *InteractionHandle) component(c *fiber.Ctx, i *discordgo.Interaction) error {
	action, localID, ok := parseCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return c.JSON(immediate("This button is no longer supported.", true))
	}

	if action == actionVote {
		v, err := h.sessions.PromptBallot(c.UserContext(), localID, userID(i))
		if err != nil {
			return c.JSON(immediate(session.UserMessage(err), true))
		}
		return c.JSON(ballotModal(v))
	}

	kind, ok := componentCommands[action]
	if !ok {
		return c.JSON(immediate("This button is no longer supported.", true))
	}
	cmd := baseCommand(i, kind)
	cmd.LocalID = localID
	return h.deferred(c, i, cmd, false)
}

func (h *InteractionHandle) modal(c *fiber.Ctx, i *discordgo.Interaction) error {
	data := i.ModalSubmitData()
	action, localID, ok := parseCustomID(data.CustomID)
	if !ok || action != actionBallot {
		return c.JSON(immediate("This form is no longer supported.", true))
	}

	cmd := baseCommand(i, models.CommandVote)
	cmd.LocalID = localID
	cmd.Ranking = session.SplitRanking(textInput(data.Components, rankingInput))
	return h.deferred(c, i, cmd, true)
}

// deferred 先应答 type 5，命令在后台执行后通过后续消息返回结果
func (h *InteractionHandle) deferred(c *fiber.Ctx, i *discordgo.Interaction, cmd session.Command, ephemeral bool) error {
	// 非创建者的操作只回给本人，不进入频道
	if err := h.sessions.CheckCreator(c.UserContext(), cmd); err != nil {
		return c.JSON(immediate(session.UserMessage(err), true))
	}

	err := h.tracker.Go("interaction "+i.ID, func() {
		h.process(i, cmd)
	})
	if err != nil {
		return c.JSON(immediate("The bot is restarting, please retry in a moment.", true))
	}

	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	return c.JSON(resp)
}

// process 与请求生命周期无关；远端调用不会因为 webhook 超时而被取消
func (h *InteractionHandle) process(i *discordgo.Interaction, cmd session.Command) {
	reply, err := h.sessions.Execute(context.Background(), cmd)
	msg := h.send(i, render(cmd.Kind, reply, err))
	if err != nil || reply == nil || reply.Session == nil {
		return
	}

	v := reply.Session
	switch {
	case cmd.Kind == models.CommandStart && msg != nil:
		h.announce(v, msg.ID)
	case cmd.Kind.CreatorOnly() && v.AnnouncementMessageID != "":
		h.edit(retiredEdit(v.ChannelID, v.AnnouncementMessageID, retired(v, reply.Outcome, cmd.Kind == models.CommandDelete)))
	}
}

// send 投递后续消息，失败时重试；全部失败返回 nil
func (h *InteractionHandle) send(i *discordgo.Interaction, params *discordgo.WebhookParams) *discordgo.Message {
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		msg, err := h.followUps.Send(ctx, i, params)
		cancel()
		if err == nil {
			return msg
		}
		if attempt == 3 {
			log.Error().Err(err).Str("interaction_id", i.ID).Msg("后续消息发送失败")
			return nil
		}
		// 后续消息可能早于 type 5 应答到达 Discord
		time.Sleep(time.Duration(attempt) * h.retryDelay)
	}
}

// announce 记录公告消息；会话在此之前已经结束时直接改写公告
func (h *InteractionHandle) announce(v *models.VotingSession, messageID string) {
	current, err := h.sessions.AttachAnnouncement(context.Background(), v.LocalID, messageID)
	switch {
	case err == nil && current.State == models.SessionStateOpen:
	case err == nil:
		h.edit(retiredEdit(current.ChannelID, messageID, retired(current, nil, false)))
	case errors.Is(err, session.ErrSessionNotFound):
		h.edit(retiredEdit(v.ChannelID, messageID, retired(v, nil, true)))
	default:
		log.Warn().Err(err).Str("local_id", v.LocalID).Msg("记录公告消息失败")
	}
}

// edit 公告改写失败不影响命令结果
func (h *InteractionHandle) edit(edit *discordgo.MessageEdit) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.followUps.Edit(ctx, edit); err != nil {
		log.Warn().Err(err).Str("message_id", edit.ID).Msg("改写公告失败")
	}
}

func baseCommand(i *discordgo.Interaction, kind models.CommandKind) session.Command {
	return session.Command{
		Kind:          kind,
		InteractionID: i.ID,
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
		UserID:        userID(i),
	}
}

func userID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func textInput(components []discordgo.MessageComponent, id string) string {
	for _, c := range components {
		switch v := c.(type) {
		case *discordgo.ActionsRow:
			if s := textInput(v.Components, id); s != "" {
				return s
			}
		case discordgo.ActionsRow:
			if s := textInput(v.Components, id); s != "" {
				return s
			}
		case *discordgo.TextInput:
			if v.CustomID == id {
				return v.Value
			}
		case discordgo.TextInput:
			if v.CustomID == id {
				return v.Value
			}
		}
	}
	return ""
}
