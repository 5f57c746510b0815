package handlers

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"ddbridge/internal/models"
	"ddbridge/internal/session"
	"ddbridge/pkg/third/directdecisions"
)

const (
	colorOpen   = 0x5865F2
	colorClosed = 0x99AAB5
	colorWinner = 0x57F287
	colorTie    = 0xFEE75C

	// modal 标题最多 45 个字符
	maxModalTitle = 45
	rankingInput  = "ranking"
)

var medals = []string{"\U0001f947", "\U0001f948", "\U0001f949"}

// customID 按钮与弹窗的 custom_id 形如 action:local_id
func customID(action, localID string) string {
	return action + ":" + localID
}

func parseCustomID(id string) (action, localID string, ok bool) {
	action, localID, ok = strings.Cut(id, ":")
	if !ok || action == "" || localID == "" {
		return "", "", false
	}
	return action, localID, true
}

func immediate(content string, ephemeral bool) *discordgo.InteractionResponse {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	}
	if ephemeral {
		resp.Data.Flags = discordgo.MessageFlagsEphemeral
	}
	return resp
}

// ballotModal 按钮 Vote 打开的排序弹窗
func ballotModal(v *models.VotingSession) *discordgo.InteractionResponse {
	title := "Rank: " + v.Name
	if r := []rune(title); len(r) > maxModalTitle {
		title = string(r[:maxModalTitle-1]) + "…"
	}
	var placeholder strings.Builder
	for i, o := range v.Options {
		fmt.Fprintf(&placeholder, "%d. %s\n", i+1, o)
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID(actionBallot, v.LocalID),
			Title:    title,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.TextInput{
						CustomID:    rankingInput,
						Label:       "Choices from most to least preferred",
						Style:       discordgo.TextInputParagraph,
						Placeholder: truncate(placeholder.String(), 100),
						Required:    true,
						MaxLength:   4000,
					},
				}},
			},
		},
	}
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}

func announcement(v *models.VotingSession) *discordgo.WebhookParams {
	var desc strings.Builder
	desc.WriteString("Rank every choice from most to least preferred. Results use the **Schulze method**.\n\n")
	for i, o := range v.Options {
		fmt.Fprintf(&desc, "**%d.** %s\n", i+1, o)
	}
	return &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{{
			Title:       "\U0001f5f3️  " + v.Name,
			Description: desc.String(),
			Color:       colorOpen,
			Footer:      &discordgo.MessageEmbedFooter{Text: "Started by the voting creator. Only they can complete, publish or delete it."},
		}},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Vote", Style: discordgo.PrimaryButton, CustomID: customID(actionVote, v.LocalID)},
				discordgo.Button{Label: "Complete", Style: discordgo.SecondaryButton, CustomID: customID(actionComplete, v.LocalID)},
				discordgo.Button{Label: "Publish", Style: discordgo.SuccessButton, CustomID: customID(actionPublish, v.LocalID)},
				discordgo.Button{Label: "Delete", Style: discordgo.DangerButton, CustomID: customID(actionDelete, v.LocalID)},
			}},
		},
	}
}

// results 排名带奖牌；无平局时附两两对决明细
func results(v *models.VotingSession, outcome *directdecisions.Outcome) []*discordgo.MessageEmbed {
	description, color := "Results calculated using the **Schulze method**\nRanked by winning percentages against other choices.", colorWinner
	if outcome.Tie {
		description, color = "\U0001f91d **It's a tie!** No clear winner emerged.", colorTie
	}

	var ranking strings.Builder
	for i, r := range outcome.Results {
		medal := "▫️"
		if i < len(medals) {
			medal = medals[i]
		}
		fmt.Fprintf(&ranking, "%s **%s**: %.1f%% wins (%d victories)\n", medal, r.Choice, r.Percentage, r.Wins)
	}

	embeds := []*discordgo.MessageEmbed{{
		Title:       "\U0001f3c6  Results: " + v.Name,
		Description: description + "\n\n" + ranking.String(),
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("%d ballots", len(v.BallotsSeen))},
	}}

	if len(outcome.Duels) == 0 || outcome.Tie {
		return embeds
	}
	var duels strings.Builder
	for _, d := range outcome.Duels {
		if d.Left.Strength == d.Right.Strength {
			fmt.Fprintf(&duels, "⚖️ %s vs %s: **Tied**\n", d.Left.Choice, d.Right.Choice)
			continue
		}
		winner, loser := d.Left, d.Right
		if loser.Strength > winner.Strength {
			winner, loser = loser, winner
		}
		fmt.Fprintf(&duels, "✓ %s > %s (%d-%d)\n", winner.Choice, loser.Choice, winner.Strength, loser.Strength)
	}
	return append(embeds, &discordgo.MessageEmbed{
		Title:       "\U0001f4ca  Head-to-Head Breakdown",
		Description: truncate(duels.String(), 4096),
		Color:       colorOpen,
	})
}

// render 把命令结果转换为后续消息
func render(kind models.CommandKind, reply *session.Reply, err error) *discordgo.WebhookParams {
	if err != nil {
		return &discordgo.WebhookParams{Content: "⚠️ " + session.UserMessage(err)}
	}

	v := reply.Session
	switch kind {
	case models.CommandStart:
		return announcement(v)
	case models.CommandComplete:
		return &discordgo.WebhookParams{
			Embeds: []*discordgo.MessageEmbed{closedEmbed(v, "Publish the results when ready.")},
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{Components: []discordgo.MessageComponent{
					discordgo.Button{Label: "Publish", Style: discordgo.SuccessButton, CustomID: customID(actionPublish, v.LocalID)},
				}},
			},
		}
	case models.CommandPublish:
		if reply.Outcome == nil {
			return &discordgo.WebhookParams{Content: reply.Message}
		}
		return &discordgo.WebhookParams{Embeds: results(v, reply.Outcome)}
	case models.CommandDelete:
		return &discordgo.WebhookParams{Content: fmt.Sprintf("\U0001f5d1️ Voting **%s** deleted.", v.Name)}
	default:
		return &discordgo.WebhookParams{Content: "✅ " + reply.Message}
	}
}

func closedEmbed(v *models.VotingSession, note string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "\U0001f512  " + v.Name,
		Description: fmt.Sprintf("Voting closed with %d ballots. %s", len(v.BallotsSeen), note),
		Color:       colorClosed,
	}
}

// retired 会话离开 Open 后公告的内容；deleted 表示本地记录已删除
func retired(v *models.VotingSession, outcome *directdecisions.Outcome, deleted bool) []*discordgo.MessageEmbed {
	switch {
	case deleted:
		return []*discordgo.MessageEmbed{{
			Title:       "\U0001f5d1️  Voting deleted: " + v.Name,
			Description: "This voting was deleted by its creator.",
			Color:       colorClosed,
		}}
	case v.State == models.SessionStatePublished && outcome != nil:
		return results(v, outcome)
	case v.State == models.SessionStatePublished:
		return []*discordgo.MessageEmbed{closedEmbed(v, "The results were published in this channel.")}
	case v.State == models.SessionStateFailed:
		return []*discordgo.MessageEmbed{{
			Title:       "⚠️  " + v.Name,
			Description: "This voting failed: " + v.FailureReason,
			Color:       colorClosed,
		}}
	default:
		return []*discordgo.MessageEmbed{closedEmbed(v, "Waiting for the creator to publish the results.")}
	}
}

// retiredEdit 改写公告并移除全部按钮
func retiredEdit(channelID, messageID string, embeds []*discordgo.MessageEmbed) *discordgo.MessageEdit {
	components := []discordgo.MessageComponent{}
	return &discordgo.MessageEdit{
		ID:         messageID,
		Channel:    channelID,
		Embeds:     &embeds,
		Components: &components,
	}
}
