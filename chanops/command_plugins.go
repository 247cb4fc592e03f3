package chanops

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// appCommandPlugins defines the /plugins command: mount, inspect,
// toggle and unmount channel plugins. Restricted to members with the
// Manage Server permission.
func appCommandPlugins() *discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageGuild)
	pluginOption := func(autocomplete bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:         discordgo.ApplicationCommandOptionString,
			Name:         "plugin",
			Description:  "Plugin name",
			Required:     true,
			Autocomplete: autocomplete,
		}
	}
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandPlugins,
		Description:              "Manage this channel's plugins",
		DefaultMemberPermissions: &manageGuild,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Add a plugin to this channel",
				Options: []*discordgo.ApplicationCommandOption{
					pluginOption(true),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "view",
				Description: "View this channel's plugins",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "enable",
				Description: "Enable a disabled plugin",
				Options: []*discordgo.ApplicationCommandOption{
					pluginOption(true),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "disable",
				Description: "Disable a plugin without losing its state",
				Options: []*discordgo.ApplicationCommandOption{
					pluginOption(true),
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Remove a plugin and discard its state",
				Options: []*discordgo.ApplicationCommandOption{
					pluginOption(true),
				},
			},
		},
	}
}

func (c *ChanOps) handleCommandPlugins(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	sub, opts := subcommand(i)
	guild, err := c.guildRecord(ctx, i.GuildID)
	if err != nil {
		return err
	}

	if sub == "view" {
		return c.pluginsView(ctx, i, guild)
	}

	opt, ok := opts["plugin"]
	if !ok {
		return c.respondText(ctx, i, "No plugin specified", true)
	}
	name := PluginName(opt.StringValue())

	switch sub {
	case "add":
		return c.pluginsAdd(ctx, i, guild, name)
	case "enable":
		return c.pluginsSetEnabled(ctx, i, guild, name, true)
	case "disable":
		return c.pluginsSetEnabled(ctx, i, guild, name, false)
	case "remove":
		return c.pluginsRemove(ctx, i, guild, name)
	default:
		return fmt.Errorf("unknown subcommand: %s", sub)
	}
}

func (c *ChanOps) pluginsAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	guild *GuildData,
	name PluginName,
) error {
	channel := guild.EnsureChannel(i.ChannelID)
	if channel.HasPlugin(name) {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(
				":warning:  The `%s` plugin is already added to this channel",
				name,
			),
			true,
		)
	}
	if name == PluginExport && guild.ExportChannelCount() >= MaxExportChannels {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(
				":warning:  At most %d channels per server can have the `%s` plugin",
				MaxExportChannels,
				PluginExport,
			),
			true,
		)
	}

	plugin, err := NewChannelPlugin(name)
	if err != nil {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(":warning:  Unknown plugin: `%s`", name),
			true,
		)
	}
	if err = channel.AddPlugin(plugin); err != nil {
		return err
	}
	if err = c.store.SaveGuildData(ctx, i.GuildID, guild); err != nil {
		return err
	}

	if name == PluginExport {
		// History loading runs detached; the dirty flag blocks /export
		// until it finishes.
		go c.runExportBackfill(context.Background(), i.GuildID, i.ChannelID)
		return c.respondText(
			ctx, i,
			fmt.Sprintf(
				"%s  Added the **%s** to this channel. "+
					"Loading message history may take a while.",
				plugin.Meta().Emoji,
				plugin.Meta().Readable,
			),
			false,
		)
	}
	return c.respondText(
		ctx, i,
		fmt.Sprintf(
			"%s  Added the **%s** to this channel",
			plugin.Meta().Emoji,
			plugin.Meta().Readable,
		),
		false,
	)
}

func (c *ChanOps) pluginsView(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	guild *GuildData,
) error {
	channel := guild.Channel(i.ChannelID)
	if channel == nil || len(channel.Plugins) == 0 {
		return c.respondText(
			ctx, i, "This channel has no plugins", true,
		)
	}
	fields := make([]*discordgo.MessageEmbedField, 0, len(channel.Plugins))
	for _, p := range channel.Plugins {
		fields = append(fields, pluginEmbedField(p))
	}
	return c.respondEmbed(
		ctx, i, &discordgo.MessageEmbed{
			Title:  fmt.Sprintf("Plugins in <#%s>", i.ChannelID),
			Color:  embedColor,
			Fields: fields,
		},
	)
}

func (c *ChanOps) pluginsSetEnabled(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	guild *GuildData,
	name PluginName,
	enabled bool,
) error {
	plugin := guild.Channel(i.ChannelID).Plugin(name)
	if plugin == nil {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(
				":warning:  The `%s` plugin isn't added to this channel",
				name,
			),
			true,
		)
	}
	verb := "enabled"
	if !enabled {
		verb = "disabled"
	}
	if plugin.Meta().Enabled == enabled {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(":warning:  The `%s` plugin is already %s", name, verb),
			true,
		)
	}
	plugin.Meta().Enabled = enabled
	if err := c.store.SaveGuildData(ctx, i.GuildID, guild); err != nil {
		return err
	}
	return c.respondText(
		ctx, i,
		fmt.Sprintf(
			"%s  The **%s** is now %s",
			plugin.Meta().Emoji,
			plugin.Meta().Readable,
			verb,
		),
		false,
	)
}

func (c *ChanOps) pluginsRemove(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	guild *GuildData,
	name PluginName,
) error {
	channel := guild.Channel(i.ChannelID)
	if channel == nil || !channel.RemovePlugin(name) {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(
				":warning:  The `%s` plugin isn't added to this channel",
				name,
			),
			true,
		)
	}
	if err := c.store.SaveGuildData(ctx, i.GuildID, guild); err != nil {
		return err
	}
	return c.respondText(
		ctx, i,
		fmt.Sprintf(":wastebasket:  Removed the `%s` plugin", name),
		false,
	)
}

// autocompletePlugins suggests addable plugin names for `add`, and
// mounted names for the other subcommands.
func (c *ChanOps) autocompletePlugins(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	sub, options := subcommand(i)
	guild, err := c.guildRecord(ctx, i.GuildID)
	if err != nil {
		c.respondChoices(ctx, i, nil)
		return
	}
	channel := guild.Channel(i.ChannelID)

	var names []string
	for _, name := range PluginNames() {
		mounted := channel.HasPlugin(name)
		if (sub == "add") != mounted {
			names = append(names, name.String())
		}
	}
	names = filterByPrefix(names, focusedOptionValue(options))
	c.respondChoices(ctx, i, stringChoices(names))
}
