package discord

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	CommandVoting = "voting"
	CommandPing   = "ping"

	OptionName    = "name"
	OptionRanking = "ranking"

	// MaxChoices 子命令最多 25 个参数，其中一个是 name
	MaxChoices = 20
)

// ChoiceOption 第 i 个候选项参数名，从 1 开始
func ChoiceOption(i int) string {
	return fmt.Sprintf("choice%d", i)
}

// ChoiceIndex 解析 choiceN 参数名，非法时返回 0
func ChoiceIndex(name string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(name, "choice"))
	if err != nil || !strings.HasPrefix(name, "choice") || n < 1 || n > MaxChoices {
		return 0
	}
	return n
}

// Commands 机器人提供的全部斜杠命令
func Commands() []*discordgo.ApplicationCommand {
	startOpts := []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        OptionName,
			Description: "The reason of the voting",
			Required:    true,
		},
	}
	for i := 1; i <= MaxChoices; i++ {
		startOpts = append(startOpts, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        ChoiceOption(i),
			Description: fmt.Sprintf("Choice number %d", i),
			Required:    i <= 2,
		})
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandPing,
			Description: "Check that the bot is alive",
		},
		{
			Name:        CommandVoting,
			Description: "Run a preferential voting in this channel",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "start",
					Description: "Create a voting",
					Options:     startOpts,
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "vote",
					Description: "Rank every choice of the active voting",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        OptionRanking,
							Description: "Choices from most to least preferred, e.g. 2, 1, 3",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "complete",
					Description: "Stop accepting ballots",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "publish",
					Description: "Publish the results of a completed voting",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "delete",
					Description: "Cancel the voting entirely",
				},
			},
		},
	}
}

// RegisterCommands 覆盖注册命令，guildID 为空时注册为全局命令
func RegisterCommands(s *discordgo.Session, appID, guildID string) error {
	registered, err := s.ApplicationCommandBulkOverwrite(appID, guildID, Commands())
	if err != nil {
		return errors.Wrap(err, "register application commands")
	}
	log.Info().Int("count", len(registered)).Str("guild_id", guildID).Msg("斜杠命令已注册")
	return nil
}
