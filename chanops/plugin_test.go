package chanops

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelPluginRoundTrip(t *testing.T) {
	t.Parallel()
	guild := NewGuildData()
	channel := guild.EnsureChannel("channel-1")

	rules, err := NewChannelPlugin(PluginRules)
	require.NoError(t, err)
	rules.(*RulesPlugin).Rules = []Rule{
		{Name: RuleNumbersOnly, Builtin: true},
	}
	require.NoError(t, channel.AddPlugin(rules))

	stats, err := NewChannelPlugin(PluginStatistics)
	require.NoError(t, err)
	sp := stats.(*StatisticsPlugin)
	sp.MessageCount = 3
	sp.WordCount = 10
	sp.AddParticipant("user-a")
	sp.AddParticipant("user-b")
	require.NoError(t, channel.AddPlugin(stats))

	export, err := NewChannelPlugin(PluginExport)
	require.NoError(t, err)
	ep := export.(*ExportPlugin)
	ep.Dirty = false
	ep.Messages = []string{"newest", "older", "oldest"}
	require.NoError(t, channel.AddPlugin(export))

	data, err := json.Marshal(guild)
	require.NoError(t, err)

	decoded := &GuildData{}
	require.NoError(t, json.Unmarshal(data, decoded))

	decodedChannel := decoded.Channel("channel-1")
	require.NotNil(t, decodedChannel)
	require.Len(t, decodedChannel.Plugins, 3)

	decodedRules := decodedChannel.RulesPlugin()
	require.NotNil(t, decodedRules)
	assert.True(t, decodedRules.HasRule(RuleNumbersOnly))
	assert.True(t, decodedRules.Enabled)
	assert.Equal(t, rules.Meta().MountedAt, decodedRules.MountedAt)

	decodedStats := decodedChannel.StatisticsPlugin()
	require.NotNil(t, decodedStats)
	assert.Equal(t, 3, decodedStats.MessageCount)
	assert.Equal(t, 10, decodedStats.WordCount)
	assert.Equal(t, []string{"user-a", "user-b"}, decodedStats.Participants)

	decodedExport := decodedChannel.ExportPlugin()
	require.NotNil(t, decodedExport)
	assert.False(t, decodedExport.Dirty)
	assert.Equal(t, []string{"newest", "older", "oldest"}, decodedExport.Messages)
	assert.Equal(
		t, DefaultExportMaxMessageLength, decodedExport.MaxMessageLength,
	)
}

func TestChannelPluginDiscriminator(t *testing.T) {
	t.Parallel()
	rules, err := NewChannelPlugin(PluginRules)
	require.NoError(t, err)
	data, err := json.Marshal(rules)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"rules"`)

	_, err = UnmarshalChannelPlugin([]byte(`{"name":"telemetry"}`))
	assert.Error(t, err)

	_, err = NewChannelPlugin("telemetry")
	assert.Error(t, err)
}

func TestAddPluginRejectsDuplicates(t *testing.T) {
	t.Parallel()
	channel := &ChannelData{}
	first, err := NewChannelPlugin(PluginStatistics)
	require.NoError(t, err)
	require.NoError(t, channel.AddPlugin(first))

	second, err := NewChannelPlugin(PluginStatistics)
	require.NoError(t, err)
	assert.Error(t, channel.AddPlugin(second))
	assert.Len(t, channel.Plugins, 1)
}

func TestRemovePluginDiscardsState(t *testing.T) {
	t.Parallel()
	channel := &ChannelData{}
	plugin, err := NewChannelPlugin(PluginExport)
	require.NoError(t, err)
	require.NoError(t, channel.AddPlugin(plugin))

	assert.True(t, channel.RemovePlugin(PluginExport))
	assert.False(t, channel.HasPlugin(PluginExport))
	assert.False(t, channel.RemovePlugin(PluginExport))
}

func TestExportChannelCount(t *testing.T) {
	t.Parallel()
	guild := NewGuildData()
	for _, channelID := range []string{"a", "b"} {
		plugin, err := NewChannelPlugin(PluginExport)
		require.NoError(t, err)
		require.NoError(t, guild.EnsureChannel(channelID).AddPlugin(plugin))
	}
	statsOnly, err := NewChannelPlugin(PluginStatistics)
	require.NoError(t, err)
	require.NoError(t, guild.EnsureChannel("c").AddPlugin(statsOnly))

	assert.Equal(t, 2, guild.ExportChannelCount())
}

func TestNilChannelAccessors(t *testing.T) {
	t.Parallel()
	var channel *ChannelData
	assert.Nil(t, channel.Plugin(PluginRules))
	assert.False(t, channel.HasPlugin(PluginExport))
	assert.Nil(t, channel.RulesPlugin())

	var guild *GuildData
	assert.Nil(t, guild.Channel("missing"))
}

func TestRemoveAlarmAt(t *testing.T) {
	t.Parallel()
	user := NewUserData()
	user.Alarms = []Alarm{
		{Message: "first", Date: 1000},
		{Message: "second", Date: 2000},
		{Message: "third", Date: 2000},
	}

	assert.True(t, user.RemoveAlarmAt(2000))
	require.Len(t, user.Alarms, 2)
	assert.Equal(t, "first", user.Alarms[0].Message)
	// only the first alarm matching the timestamp is removed
	assert.Equal(t, "third", user.Alarms[1].Message)

	assert.False(t, user.RemoveAlarmAt(9999))
}
