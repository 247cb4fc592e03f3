package chanops

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// appCommandExport defines the /export command, which writes the
// channel's buffered messages out as a text file attachment.
func appCommandExport() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandExport,
		Description: "Export this channel's buffered messages to a file",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "separator",
				Description: `String placed between messages (default newline; wrap in quotes to keep spaces)`,
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "nmessages",
				Description: "Export at most this many of the newest messages",
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "reverse",
				Description: "Export newest messages first instead of oldest first",
			},
			{
				Type:        discordgo.ApplicationCommandOptionBoolean,
				Name:        "conform",
				Description: "Only export messages passing this channel's content rules",
			},
		},
	}
}

func (c *ChanOps) handleCommandExport(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	guild, err := c.guildRecord(ctx, i.GuildID)
	if err != nil {
		return err
	}
	channel := guild.Channel(i.ChannelID)
	plugin := channel.ExportPlugin()
	if plugin == nil {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(
				":warning:  This channel doesn't have the `%s` plugin",
				PluginExport,
			),
			true,
		)
	}
	if plugin.Dirty {
		return c.respondText(
			ctx, i,
			":hourglass:  Still loading this channel's message history, try again shortly",
			true,
		)
	}

	opts := exportOptions{Separator: "\n"}
	data := discordInteractionOptions(i.ApplicationCommandData().Options)
	if opt, ok := data["separator"]; ok {
		opts.Separator = opt.StringValue()
	}
	if opt, ok := data["nmessages"]; ok {
		opts.Limit = int(opt.IntValue())
	}
	if opt, ok := data["reverse"]; ok {
		opts.Reverse = opt.BoolValue()
	}
	if opt, ok := data["conform"]; ok {
		opts.Conform = opt.BoolValue()
	}

	rules := channel.RulesPlugin()
	var warning string
	if opts.Conform && rules == nil {
		warning = fmt.Sprintf(
			"\n:warning:  `conform` ignored: this channel has no `%s` plugin",
			PluginRules,
		)
		opts.Conform = false
	}

	body, count := renderExport(plugin, rules, opts)
	filename := fmt.Sprintf(
		"export-%s-%d.txt", i.ChannelID, time.Now().Unix(),
	)
	return c.respondFile(
		ctx, i,
		fmt.Sprintf(
			":outbox_tray:  Exported %s from <#%s>%s",
			pluralize(int64(count), "message"),
			i.ChannelID,
			warning,
		),
		filename,
		[]byte(body),
	)
}
