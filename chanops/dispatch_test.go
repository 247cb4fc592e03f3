package chanops

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mountPlugin mounts a fresh plugin on the given channel and persists
// the guild record.
func mountPlugin(
	t *testing.T,
	store *memStore,
	guildID string,
	channelID string,
	name PluginName,
) ChannelPlugin {
	t.Helper()
	ctx := context.Background()
	guild, err := store.GuildData(ctx, guildID)
	require.NoError(t, err)
	if guild == nil {
		guild = NewGuildData()
	}
	plugin, err := NewChannelPlugin(name)
	require.NoError(t, err)
	require.NoError(t, guild.EnsureChannel(channelID).AddPlugin(plugin))
	require.NoError(t, store.SaveGuildData(ctx, guildID, guild))
	return plugin
}

func TestDispatchStatisticsAccumulation(t *testing.T) {
	t.Parallel()
	bot, store, _ := newTestBot(t)
	ctx := context.Background()
	mountPlugin(t, store, "guild-1", "channel-1", PluginStatistics)

	messages := []*discordgo.Message{
		newMessage("1", "channel-1", "user-a", "hello there"),
		newMessage("2", "channel-1", "user-b", "well hello there"),
		newMessage("3", "channel-1", "user-a", "one two three four five"),
	}
	for _, m := range messages {
		bot.handleMessageCreate(ctx, &discordgo.MessageCreate{Message: m})
	}

	guild, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	stats := guild.Channel("channel-1").StatisticsPlugin()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.MessageCount)
	assert.Equal(t, 10, stats.WordCount)
	assert.Len(t, stats.Participants, 2)

	userA, err := store.UserData(ctx, "user-a")
	require.NoError(t, err)
	require.NotNil(t, userA)
	assert.Equal(t, 2, userA.MessageCount)
	assert.Greater(t, userA.LastSeen, int64(0))
}

func TestDispatchRuleViolationDeletesMessage(t *testing.T) {
	t.Parallel()
	bot, store, session := newTestBot(t)
	ctx := context.Background()
	mountPlugin(t, store, "guild-1", "channel-1", PluginRules)
	guild, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	guild.Channel("channel-1").RulesPlugin().Rules = []Rule{
		{Name: RuleNumbersOnly, Builtin: true},
	}
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", guild))

	bot.handleMessageCreate(
		ctx, &discordgo.MessageCreate{
			Message: newMessage("1", "channel-1", "user-a", "not a number"),
		},
	)
	require.Len(t, session.deleted, 1)
	assert.Equal(t, "1", session.deleted[0].MessageID)

	bot.handleMessageCreate(
		ctx, &discordgo.MessageCreate{
			Message: newMessage("2", "channel-1", "user-a", "12345"),
		},
	)
	assert.Len(t, session.deleted, 1)
}

func TestDispatchUnknownRuleSkipped(t *testing.T) {
	t.Parallel()
	bot, store, session := newTestBot(t)
	ctx := context.Background()
	mountPlugin(t, store, "guild-1", "channel-1", PluginRules)
	guild, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	guild.Channel("channel-1").RulesPlugin().Rules = []Rule{
		{Name: "retired-rule", Builtin: true},
	}
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", guild))

	bot.handleMessageCreate(
		ctx, &discordgo.MessageCreate{
			Message: newMessage("1", "channel-1", "user-a", "anything at all"),
		},
	)
	assert.Empty(t, session.deleted)
}

func TestDispatchDisabledPluginSkipped(t *testing.T) {
	t.Parallel()
	bot, store, _ := newTestBot(t)
	ctx := context.Background()
	mountPlugin(t, store, "guild-1", "channel-1", PluginStatistics)
	guild, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	guild.Channel("channel-1").StatisticsPlugin().Enabled = false
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", guild))

	bot.handleMessageCreate(
		ctx, &discordgo.MessageCreate{
			Message: newMessage("1", "channel-1", "user-a", "hello"),
		},
	)

	guild, err = store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, 0, guild.Channel("channel-1").StatisticsPlugin().MessageCount)
}

func TestDispatchExportCapture(t *testing.T) {
	t.Parallel()
	bot, store, _ := newTestBot(t)
	ctx := context.Background()
	mountPlugin(t, store, "guild-1", "channel-1", PluginExport)
	guild, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	export := guild.Channel("channel-1").ExportPlugin()
	export.Dirty = false
	export.MaxMessageLength = 10
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", guild))

	for _, content := range []string{"first", "second", "", "far too long for the cap"} {
		bot.handleMessageCreate(
			ctx, &discordgo.MessageCreate{
				Message: newMessage("1", "channel-1", "user-a", content),
			},
		)
	}

	guild, err = store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	// newest first; empty and over-length contents are not buffered
	assert.Equal(
		t,
		[]string{"second", "first"},
		guild.Channel("channel-1").ExportPlugin().Messages,
	)
}

func TestDispatchIgnoresBotsAndDMs(t *testing.T) {
	t.Parallel()
	bot, store, _ := newTestBot(t)
	ctx := context.Background()
	mountPlugin(t, store, "guild-1", "channel-1", PluginStatistics)

	fromBot := newMessage("1", "channel-1", "bot-user", "beep")
	fromBot.Author.Bot = true
	bot.handleMessageCreate(ctx, &discordgo.MessageCreate{Message: fromBot})

	dm := newMessage("2", "channel-1", "user-a", "psst")
	dm.GuildID = ""
	bot.handleMessageCreate(ctx, &discordgo.MessageCreate{Message: dm})

	guild, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, 0, guild.Channel("channel-1").StatisticsPlugin().MessageCount)

	botUser, err := store.UserData(ctx, "bot-user")
	require.NoError(t, err)
	assert.Nil(t, botUser)
}

func TestDispatchEditTriggersRulesOnly(t *testing.T) {
	t.Parallel()
	bot, store, session := newTestBot(t)
	ctx := context.Background()
	mountPlugin(t, store, "guild-1", "channel-1", PluginRules)
	mountPlugin(t, store, "guild-1", "channel-1", PluginStatistics)
	guild, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	guild.Channel("channel-1").RulesPlugin().Rules = []Rule{
		{Name: RuleNumbersOnly, Builtin: true},
	}
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", guild))

	bot.handleMessageUpdate(
		ctx, &discordgo.MessageUpdate{
			Message: newMessage("1", "channel-1", "user-a", "edited to words"),
		},
	)

	// the edit violates the rule and is deleted, but never counts
	// toward statistics
	require.Len(t, session.deleted, 1)
	guild, err = store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(t, 0, guild.Channel("channel-1").StatisticsPlugin().MessageCount)

	user, err := store.UserData(ctx, "user-a")
	require.NoError(t, err)
	require.NotNil(t, user)
	// lastSeen is bumped on edits, the message count is not
	assert.Equal(t, 0, user.MessageCount)
	assert.Greater(t, user.LastSeen, int64(0))
}
