package chanops

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// subcommand returns the invoked subcommand and its options, for
// commands defined as a set of subcommands.
func subcommand(
	i *discordgo.InteractionCreate,
) (string, map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return "", nil
	}
	sub := data.Options[0]
	return sub.Name, discordInteractionOptions(sub.Options)
}

// respondText sends the initial interaction response as a plain
// message.
func (c *ChanOps) respondText(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
	ephemeral bool,
) error {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	content = truncate(content, discordMaxMessageLength)
	return c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   flags,
			},
		},
		discordgo.WithContext(ctx),
	)
}

// respondEmbed sends the initial interaction response as a single
// embed.
func (c *ChanOps) respondEmbed(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) error {
	return c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
			},
		},
		discordgo.WithContext(ctx),
	)
}

// respondFile sends the initial interaction response with a single
// file attachment.
func (c *ChanOps) respondFile(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	content string,
	filename string,
	body []byte,
) error {
	return c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Files: []*discordgo.File{
					{
						Name:        filename,
						ContentType: "text/plain",
						Reader:      bytes.NewReader(body),
					},
				},
			},
		},
		discordgo.WithContext(ctx),
	)
}

// respondChoices answers an autocomplete interaction. Discord rejects
// more than 25 choices, so the slice is truncated.
func (c *ChanOps) respondChoices(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	choices []*discordgo.ApplicationCommandOptionChoice,
) {
	if len(choices) > 25 {
		choices = choices[:25]
	}
	err := c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		c.logger.WarnContext(
			ctx, "error sending autocomplete choices", tint.Err(err),
		)
	}
}

// stringChoices builds autocomplete choices from plain strings.
func stringChoices(values []string) []*discordgo.ApplicationCommandOptionChoice {
	choices := make(
		[]*discordgo.ApplicationCommandOptionChoice, 0, len(values),
	)
	for _, v := range values {
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{Name: v, Value: v},
		)
	}
	return choices
}

// pluginEmbedField renders one mounted plugin as an embed field.
func pluginEmbedField(p ChannelPlugin) *discordgo.MessageEmbedField {
	meta := p.Meta()
	state := "enabled"
	if !meta.Enabled {
		state = "disabled"
	}
	return &discordgo.MessageEmbedField{
		Name: fmt.Sprintf("%s  %s", meta.Emoji, meta.Readable),
		Value: fmt.Sprintf(
			"`%s` (%s) - added <t:%d:R>",
			p.Name(),
			state,
			meta.MountedAt/1000,
		),
	}
}

// guildRecord reads the invoking guild's record, creating an empty one
// on first use.
func (c *ChanOps) guildRecord(
	ctx context.Context,
	guildID string,
) (*GuildData, error) {
	guild, err := c.store.GuildData(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if guild == nil {
		guild = NewGuildData()
	}
	return guild, nil
}

// touchUser updates (or lazily creates) the invoking user's record,
// bumping LastSeen. Failures are logged and swallowed so bookkeeping
// never breaks a command.
func (c *ChanOps) touchUser(
	ctx context.Context,
	logger *slog.Logger,
	userID string,
) *UserData {
	user, err := c.store.UserData(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "error reading user record", tint.Err(err))
		return nil
	}
	if user == nil {
		user = NewUserData()
	}
	user.LastSeen = time.Now().UnixMilli()
	if err = c.store.SaveUserData(ctx, userID, user); err != nil {
		logger.ErrorContext(ctx, "error saving user record", tint.Err(err))
	}
	return user
}
