package chanops

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedHistory serves a fixed channel history, newest first, in pages
// the way Discord does.
type pagedHistory struct {
	messages []*discordgo.Message
	calls    int
}

func (p *pagedHistory) ChannelMessages(
	_ string,
	limit int,
	beforeID string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	p.calls++
	start := 0
	if beforeID != "" {
		for n, m := range p.messages {
			if m.ID == beforeID {
				start = n + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(p.messages) {
		end = len(p.messages)
	}
	return p.messages[start:end], nil
}

func historyFixture(count int) []*discordgo.Message {
	messages := make([]*discordgo.Message, 0, count)
	// newest first: highest ID leads
	for n := count; n >= 1; n-- {
		messages = append(
			messages,
			newMessage(
				strconv.Itoa(n),
				"channel-1",
				"user-a",
				fmt.Sprintf("message %d", n),
			),
		)
	}
	return messages
}

func TestCollectChannelHistoryPaging(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	history := &pagedHistory{messages: historyFixture(150)}

	collected, err := collectChannelHistory(
		ctx, history, "channel-1", DefaultExportMaxMessageLength, 0,
	)
	require.NoError(t, err)
	assert.Len(t, collected, 150)
	// a full page plus a short page
	assert.Equal(t, 2, history.calls)
	assert.Equal(t, "message 150", collected[0])
	assert.Equal(t, "message 1", collected[149])
}

func TestCollectChannelHistoryLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	history := &pagedHistory{messages: historyFixture(150)}

	collected, err := collectChannelHistory(
		ctx, history, "channel-1", DefaultExportMaxMessageLength, 5,
	)
	require.NoError(t, err)
	assert.Len(t, collected, 5)
	assert.Equal(t, 1, history.calls)
}

func TestCollectChannelHistoryFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fromBot := newMessage("4", "channel-1", "bot-user", "beep")
	fromBot.Author.Bot = true
	empty := newMessage("3", "channel-1", "user-a", "")
	tooLong := newMessage("2", "channel-1", "user-a", "0123456789")
	keeper := newMessage("1", "channel-1", "user-a", "short")

	history := &pagedHistory{
		messages: []*discordgo.Message{fromBot, empty, tooLong, keeper},
	}
	collected, err := collectChannelHistory(ctx, history, "channel-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, collected)
}

func TestRunExportBackfillMerge(t *testing.T) {
	t.Parallel()
	bot, store, session := newTestBot(t)
	ctx := context.Background()
	mountPlugin(t, store, "guild-1", "channel-1", PluginExport)

	// messages captured live while the backfill was in flight
	guild, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	export := guild.Channel("channel-1").ExportPlugin()
	require.True(t, export.Dirty)
	export.Messages = []string{"live 2", "live 1"}
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", guild))

	session.channelMessagesFn = func(
		_ string, _ int, beforeID string, _ string, _ string,
	) ([]*discordgo.Message, error) {
		if beforeID != "" {
			return nil, nil
		}
		return []*discordgo.Message{
			newMessage("2", "channel-1", "user-a", "backlog new"),
			newMessage("1", "channel-1", "user-a", "backlog old"),
		}, nil
	}

	bot.runExportBackfill(ctx, "guild-1", "channel-1")

	guild, err = store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	export = guild.Channel("channel-1").ExportPlugin()
	assert.False(t, export.Dirty)
	assert.Equal(
		t,
		[]string{"backlog new", "backlog old", "live 2", "live 1"},
		export.Messages,
	)
	// completion notice goes to the channel
	require.Len(t, session.sent, 1)
	assert.Contains(t, session.sent[0].Content, "Finished loading")
}

func TestRunExportBackfillIdempotent(t *testing.T) {
	t.Parallel()
	bot, store, session := newTestBot(t)
	ctx := context.Background()
	mountPlugin(t, store, "guild-1", "channel-1", PluginExport)
	guild, err := store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	export := guild.Channel("channel-1").ExportPlugin()
	export.Dirty = false
	export.Messages = []string{"settled"}
	require.NoError(t, store.SaveGuildData(ctx, "guild-1", guild))

	session.channelMessagesFn = func(
		_ string, _ int, _ string, _ string, _ string,
	) ([]*discordgo.Message, error) {
		t.Fatal("history should not be paged for a clean plugin")
		return nil, nil
	}

	bot.runExportBackfill(ctx, "guild-1", "channel-1")

	guild, err = store.GuildData(ctx, "guild-1")
	require.NoError(t, err)
	assert.Equal(
		t, []string{"settled"}, guild.Channel("channel-1").ExportPlugin().Messages,
	)
	assert.Empty(t, session.sent)
}

func TestRenderExport(t *testing.T) {
	t.Parallel()
	plugin := &ExportPlugin{
		Messages:         []string{"third", "second", "first"},
		MaxMessageLength: DefaultExportMaxMessageLength,
	}

	t.Run(
		"default is oldest first", func(t *testing.T) {
			body, count := renderExport(
				plugin, nil, exportOptions{Separator: "\n"},
			)
			assert.Equal(t, "first\nsecond\nthird", body)
			assert.Equal(t, 3, count)
		},
	)
	t.Run(
		"reverse keeps newest first", func(t *testing.T) {
			body, _ := renderExport(
				plugin, nil, exportOptions{Separator: "\n", Reverse: true},
			)
			assert.Equal(t, "third\nsecond\nfirst", body)
		},
	)
	t.Run(
		"limit keeps the newest messages", func(t *testing.T) {
			body, count := renderExport(
				plugin, nil, exportOptions{Separator: "\n", Limit: 2},
			)
			assert.Equal(t, "second\nthird", body)
			assert.Equal(t, 2, count)
		},
	)
	t.Run(
		"quoted separator is unwrapped", func(t *testing.T) {
			body, _ := renderExport(
				plugin, nil, exportOptions{Separator: `" "`},
			)
			assert.Equal(t, "first second third", body)
		},
	)
	t.Run(
		"conform filters by content rules", func(t *testing.T) {
			numeric := &ExportPlugin{
				Messages: []string{"300", "two hundred", "100"},
			}
			rules := &RulesPlugin{
				Rules: []Rule{{Name: RuleNumbersOnly, Builtin: true}},
			}
			body, count := renderExport(
				numeric, rules,
				exportOptions{Separator: ",", Conform: true},
			)
			assert.Equal(t, "100,300", body)
			assert.Equal(t, 2, count)
		},
	)
	t.Run(
		"conform skips context rules", func(t *testing.T) {
			numeric := &ExportPlugin{Messages: []string{"b", "a"}}
			rules := &RulesPlugin{
				Rules: []Rule{
					{Name: RuleAlternatingParticipants, Builtin: true},
				},
			}
			body, count := renderExport(
				numeric, rules,
				exportOptions{Separator: ",", Conform: true},
			)
			assert.Equal(t, "a,b", body)
			assert.Equal(t, 2, count)
		},
	)
	t.Run(
		"messages are trimmed", func(t *testing.T) {
			padded := &ExportPlugin{
				Messages: []string{"  second  ", "\tfirst\n"},
			}
			body, _ := renderExport(
				padded, nil, exportOptions{Separator: ","},
			)
			assert.Equal(t, "first,second", body)
		},
	)
	t.Run(
		"conform applies before the limit", func(t *testing.T) {
			numeric := &ExportPlugin{
				Messages: []string{"400", "three hundred", "200", "100"},
			}
			rules := &RulesPlugin{
				Rules: []Rule{{Name: RuleNumbersOnly, Builtin: true}},
			}
			body, count := renderExport(
				numeric, rules,
				exportOptions{Separator: ",", Conform: true, Limit: 2},
			)
			assert.Equal(t, "200,400", body)
			assert.Equal(t, 2, count)
		},
	)
	t.Run(
		"trim happens before conform", func(t *testing.T) {
			numeric := &ExportPlugin{Messages: []string{" 300 ", "100"}}
			rules := &RulesPlugin{
				Rules: []Rule{{Name: RuleNumbersOnly, Builtin: true}},
			}
			body, count := renderExport(
				numeric, rules,
				exportOptions{Separator: ",", Conform: true},
			)
			assert.Equal(t, "100,300", body)
			assert.Equal(t, 2, count)
		},
	)
}

func TestCollectChannelHistoryContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	history := &pagedHistory{messages: historyFixture(10)}
	start := time.Now()
	_, err := collectChannelHistory(
		ctx, history, "channel-1", DefaultExportMaxMessageLength, 0,
	)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
