package chanops

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// collectChannelHistory pages backward through a channel's message
// history, collecting non-empty, non-bot message contents in
// reverse-chronological order. Paging stops when a page comes back
// short of [ExportHistoryPageSize], or when `limit` contents have been
// collected (limit <= 0 means unlimited). Requests are rate limited so
// a long backfill doesn't starve the rest of the session's bucket.
func collectChannelHistory(
	ctx context.Context,
	history ChannelHistory,
	channelID string,
	maxMessageLength int,
	limit int,
) ([]string, error) {
	limiter := rate.NewLimiter(rate.Limit(exportHistoryRequestsPerSecond), 1)

	var collected []string
	var beforeID string
	for {
		if err := limiter.Wait(ctx); err != nil {
			return collected, err
		}
		page, err := history.ChannelMessages(
			channelID,
			ExportHistoryPageSize,
			beforeID,
			"",
			"",
		)
		if err != nil {
			return collected, fmt.Errorf(
				"error fetching channel history: %w", err,
			)
		}
		for _, m := range page {
			if m.Author == nil || m.Author.Bot {
				continue
			}
			if len(m.Content) == 0 || len(m.Content) >= maxMessageLength {
				continue
			}
			collected = append(collected, m.Content)
			if limit > 0 && len(collected) >= limit {
				return collected, nil
			}
		}
		if len(page) < ExportHistoryPageSize {
			return collected, nil
		}
		beforeID = page[len(page)-1].ID
	}
}

// runExportBackfill is the one-shot history load kicked off when an
// export plugin is mounted. It runs detached from the command that
// mounted the plugin. On completion the guild record is re-read so
// messages captured live during the backfill survive the merge: the
// backlog goes in front of the live-captured entries, and the dirty
// flag is cleared.
//
// Re-running against an already-clean plugin is a no-op, so a backfill
// that loses the mount-time race can't double-collect.
func (c *ChanOps) runExportBackfill(
	ctx context.Context,
	guildID string,
	channelID string,
) {
	logger := c.logger.With(
		slog.Group("backfill", "guild_id", guildID, "channel_id", channelID),
	)
	logger.InfoContext(ctx, "starting export backfill")

	guild, err := c.store.GuildData(ctx, guildID)
	if err != nil || guild == nil {
		logger.ErrorContext(ctx, "error reading guild record", tint.Err(err))
		return
	}
	plugin := guild.Channel(channelID).ExportPlugin()
	if plugin == nil || !plugin.Dirty {
		return
	}

	backlog, err := collectChannelHistory(
		ctx,
		c.discord.session,
		channelID,
		plugin.MaxMessageLength,
		c.config.ExportHistoryLimit,
	)
	if err != nil {
		logger.ErrorContext(ctx, "export backfill failed", tint.Err(err))
		return
	}

	guild, err = c.store.GuildData(ctx, guildID)
	if err != nil || guild == nil {
		logger.ErrorContext(ctx, "error re-reading guild record", tint.Err(err))
		return
	}
	plugin = guild.Channel(channelID).ExportPlugin()
	if plugin == nil || !plugin.Dirty {
		return
	}
	plugin.Messages = append(backlog, plugin.Messages...)
	plugin.Dirty = false
	if err = c.store.SaveGuildData(ctx, guildID, guild); err != nil {
		logger.ErrorContext(ctx, "error saving guild record", tint.Err(err))
		return
	}

	logger.InfoContext(
		ctx, "export backfill complete", "messages", len(plugin.Messages),
	)
	_ = c.discord.channelMessageSend(
		channelID,
		fmt.Sprintf(
			":outbox_tray:  Finished loading message history for <#%s> (%s buffered)",
			channelID,
			pluralize(int64(len(plugin.Messages)), "message"),
		),
		discordgo.WithContext(ctx),
	)
}

// exportOptions are the /export command options after defaulting.
type exportOptions struct {
	// Separator joins the exported messages. One pair of wrapping
	// double quotes is stripped, so `" "` exports space-separated.
	Separator string

	// Limit caps the number of exported messages (0 = all)
	Limit int

	// Reverse exports newest-first instead of the default oldest-first
	Reverse bool

	// Conform drops messages violating the channel's content rules
	Conform bool
}

// renderExport produces the export file body from the plugin's buffer.
// Each message is whitespace-trimmed. With Conform set, messages
// failing any of the channel's builtin content rules are dropped
// before the limit applies, so the export holds up to Limit conforming
// messages (context rules need surrounding history and can't be
// re-evaluated from the buffer, so they're skipped). The buffer is
// newest-first; the default output order is oldest-first. The returned
// count is the number of messages included.
func renderExport(
	plugin *ExportPlugin,
	rules *RulesPlugin,
	opts exportOptions,
) (string, int) {
	messages := make([]string, 0, len(plugin.Messages))
	for _, content := range plugin.Messages {
		messages = append(messages, strings.TrimSpace(content))
	}

	if opts.Conform && rules != nil {
		kept := messages[:0]
		for _, content := range messages {
			if conformsToContentRules(rules, content) {
				kept = append(kept, content)
			}
		}
		messages = kept
	}

	if opts.Limit > 0 && opts.Limit < len(messages) {
		messages = messages[:opts.Limit]
	}

	out := make([]string, 0, len(messages))
	if opts.Reverse {
		out = append(out, messages...)
	} else {
		for i := len(messages) - 1; i >= 0; i-- {
			out = append(out, messages[i])
		}
	}

	return strings.Join(out, unquoteSeparator(opts.Separator)), len(out)
}

// conformsToContentRules evaluates the channel's builtin content rules
// against a single message content. Unknown rule names and context
// rules are skipped.
func conformsToContentRules(rules *RulesPlugin, content string) bool {
	for _, r := range rules.Rules {
		builtin, ok := LookupBuiltin(r.Name)
		if !ok || !builtin.UsesContent() {
			continue
		}
		if !builtin.Content(strings.TrimSpace(content)) {
			return false
		}
	}
	return true
}
