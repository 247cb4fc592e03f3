package chanops

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// appCommandRules defines the /rules command for managing the rules
// plugin's active rule list.
func appCommandRules() *discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageGuild)
	ruleOption := &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionString,
		Name:         "rule",
		Description:  "Rule name",
		Required:     true,
		Autocomplete: true,
	}
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandRules,
		Description:              "Manage this channel's formatting rules",
		DefaultMemberPermissions: &manageGuild,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Enforce a rule in this channel",
				Options: []*discordgo.ApplicationCommandOption{
					ruleOption,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "view",
				Description: "View this channel's enforced rules",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "remove",
				Description: "Stop enforcing a rule",
				Options: []*discordgo.ApplicationCommandOption{
					ruleOption,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "clear",
				Description: "Stop enforcing all rules",
			},
		},
	}
}

// handleCommandRules requires the rules plugin, which the interaction
// dispatcher enforces before routing here.
func (c *ChanOps) handleCommandRules(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	sub, opts := subcommand(i)
	guild, err := c.guildRecord(ctx, i.GuildID)
	if err != nil {
		return err
	}
	plugin := guild.Channel(i.ChannelID).RulesPlugin()
	if plugin == nil {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(
				":warning:  This channel doesn't have the `%s` plugin",
				PluginRules,
			),
			true,
		)
	}

	switch sub {
	case "add":
		return c.rulesAdd(ctx, i, guild, plugin, opts["rule"].StringValue())
	case "view":
		return c.rulesView(ctx, i, plugin)
	case "remove":
		return c.rulesRemove(ctx, i, guild, plugin, opts["rule"].StringValue())
	case "clear":
		plugin.Rules = []Rule{}
		if err = c.store.SaveGuildData(ctx, i.GuildID, guild); err != nil {
			return err
		}
		return c.respondText(
			ctx, i, ":wastebasket:  Cleared this channel's rules", false,
		)
	default:
		return fmt.Errorf("unknown subcommand: %s", sub)
	}
}

func (c *ChanOps) rulesAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	guild *GuildData,
	plugin *RulesPlugin,
	name string,
) error {
	if _, ok := LookupBuiltin(name); !ok {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(":warning:  Unknown rule: `%s`", name),
			true,
		)
	}
	if plugin.HasRule(name) {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(":warning:  The `%s` rule is already enforced", name),
			true,
		)
	}
	plugin.Rules = append(plugin.Rules, Rule{Name: name, Builtin: true})
	if err := c.store.SaveGuildData(ctx, i.GuildID, guild); err != nil {
		return err
	}
	return c.respondText(
		ctx, i,
		fmt.Sprintf(
			":scroll:  Now enforcing the `%s` rule in this channel", name,
		),
		false,
	)
}

func (c *ChanOps) rulesView(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	plugin *RulesPlugin,
) error {
	if len(plugin.Rules) == 0 {
		return c.respondText(
			ctx, i, "This channel has no enforced rules", true,
		)
	}
	lines := make([]string, 0, len(plugin.Rules))
	for n, r := range plugin.Rules {
		lines = append(lines, fmt.Sprintf("%d. `%s`", n+1, r.Name))
	}
	return c.respondEmbed(
		ctx, i, &discordgo.MessageEmbed{
			Title:       fmt.Sprintf(":scroll:  Rules in <#%s>", i.ChannelID),
			Description: strings.Join(lines, "\n"),
			Color:       embedColor,
		},
	)
}

func (c *ChanOps) rulesRemove(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	guild *GuildData,
	plugin *RulesPlugin,
	name string,
) error {
	if !plugin.RemoveRule(name) {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(":warning:  The `%s` rule isn't enforced here", name),
			true,
		)
	}
	if err := c.store.SaveGuildData(ctx, i.GuildID, guild); err != nil {
		return err
	}
	return c.respondText(
		ctx, i,
		fmt.Sprintf(":wastebasket:  No longer enforcing the `%s` rule", name),
		false,
	)
}

// autocompleteRules suggests unenforced builtin rules for `add`, and
// the channel's enforced rules for `remove`.
func (c *ChanOps) autocompleteRules(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	sub, options := subcommand(i)
	guild, err := c.guildRecord(ctx, i.GuildID)
	if err != nil {
		c.respondChoices(ctx, i, nil)
		return
	}
	plugin := guild.Channel(i.ChannelID).RulesPlugin()
	if plugin == nil {
		c.respondChoices(ctx, i, nil)
		return
	}

	var names []string
	switch sub {
	case "add":
		for _, name := range BuiltinRuleNames() {
			if !plugin.HasRule(name) {
				names = append(names, name)
			}
		}
	case "remove":
		for _, r := range plugin.Rules {
			names = append(names, r.Name)
		}
	}
	names = filterByPrefix(names, focusedOptionValue(options))
	c.respondChoices(ctx, i, stringChoices(names))
}
