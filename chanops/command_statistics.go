package chanops

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// appCommandStatistics defines the /statistics command, which renders
// the channel's accumulated counters.
func appCommandStatistics() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandStatistics,
		Description: "View this channel's activity statistics",
	}
}

func (c *ChanOps) handleCommandStatistics(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	guild, err := c.guildRecord(ctx, i.GuildID)
	if err != nil {
		return err
	}
	plugin := guild.Channel(i.ChannelID).StatisticsPlugin()
	if plugin == nil {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(
				":warning:  This channel doesn't have the `%s` plugin",
				PluginStatistics,
			),
			true,
		)
	}

	wordsPerMessage := 0.0
	if plugin.MessageCount > 0 {
		wordsPerMessage = float64(plugin.WordCount) / float64(plugin.MessageCount)
	}
	messagesPerUser := 0.0
	if len(plugin.Participants) > 0 {
		messagesPerUser = float64(plugin.MessageCount) /
			float64(len(plugin.Participants))
	}
	// days elapsed since the plugin was mounted, counting a partial
	// day as a full one
	daysTracked := (time.Now().UnixMilli()-plugin.MountedAt)/
		(24*time.Hour).Milliseconds() + 1
	messagesPerDay := 0.0
	if daysTracked > 0 {
		messagesPerDay = float64(plugin.MessageCount) / float64(daysTracked)
	}
	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf(":bar_chart:  Statistics for <#%s>", i.ChannelID),
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "Totals",
				Value: fmt.Sprintf(
					"%s\n%s",
					pluralize(int64(plugin.MessageCount), "message"),
					pluralize(int64(plugin.WordCount), "word"),
				),
				Inline: true,
			},
			{
				Name: "Engagement",
				Value: fmt.Sprintf(
					"%s\n%.1f messages per user\n%.1f words per message",
					pluralize(int64(len(plugin.Participants)), "participant"),
					messagesPerUser,
					wordsPerMessage,
				),
				Inline: true,
			},
			{
				Name: "Activity",
				Value: fmt.Sprintf(
					"%.1f messages per day\nTracking since <t:%d:R>",
					messagesPerDay,
					plugin.MountedAt/1000,
				),
			},
		},
	}
	return c.respondEmbed(ctx, i, embed)
}
