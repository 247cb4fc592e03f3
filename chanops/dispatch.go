package chanops

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleMessageCreate is the message-create half of the channel plugin
// dispatcher. It updates the author's user record, then applies every
// enabled plugin on the channel to the message, and writes the guild
// record back once at the end - per-event persistence is a single
// read-modify-write of the whole guild record.
func (d *ChanOps) handleMessageCreate(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	if !d.dispatchableMessage(m.Message) {
		return
	}
	logger := d.logger.With(
		"guild_id", m.GuildID,
		"channel_id", m.ChannelID,
	)
	ctx = WithLogger(ctx, logger)

	d.recordUserActivity(ctx, m.Author.ID, true)

	guild, err := d.store.GuildData(ctx, m.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error reading guild record", tint.Err(err))
		return
	}
	if guild == nil {
		return
	}
	channel := guild.Channel(m.ChannelID)
	if channel == nil {
		return
	}

	for _, plugin := range channel.Plugins {
		if !plugin.Meta().Enabled {
			continue
		}
		switch p := plugin.(type) {
		case *RulesPlugin:
			d.enforceRules(ctx, p, m.Message)
		case *StatisticsPlugin:
			p.MessageCount++
			p.WordCount += wordCount(m.Content)
			p.AddParticipant(m.Author.ID)
		case *ExportPlugin:
			if len(m.Content) > 0 && len(m.Content) < p.MaxMessageLength {
				p.Messages = append([]string{m.Content}, p.Messages...)
			}
		default:
			logger.ErrorContext(
				ctx,
				"unhandled plugin kind",
				"plugin", plugin.Name(),
			)
		}
	}

	if err = d.store.SaveGuildData(ctx, m.GuildID, guild); err != nil {
		logger.ErrorContext(ctx, "error saving guild record", tint.Err(err))
	}
}

// handleMessageUpdate is the message-edit half of the dispatcher. Only
// the rules plugin reacts to edits - statistics and export don't
// re-account edited content - and the rules are evaluated against the
// edited message's new content.
func (d *ChanOps) handleMessageUpdate(
	ctx context.Context,
	m *discordgo.MessageUpdate,
) {
	if m.Message == nil || !d.dispatchableMessage(m.Message) {
		return
	}
	logger := d.logger.With(
		"guild_id", m.GuildID,
		"channel_id", m.ChannelID,
	)
	ctx = WithLogger(ctx, logger)

	d.recordUserActivity(ctx, m.Author.ID, false)

	guild, err := d.store.GuildData(ctx, m.GuildID)
	if err != nil {
		logger.ErrorContext(ctx, "error reading guild record", tint.Err(err))
		return
	}
	if guild == nil {
		return
	}
	channel := guild.Channel(m.ChannelID)
	if channel == nil {
		return
	}

	rules := channel.RulesPlugin()
	if rules == nil || !rules.Enabled {
		return
	}
	d.enforceRules(ctx, rules, m.Message)
}

// dispatchableMessage reports whether a message should go through the
// plugin dispatcher: guild messages from human users, excluding
// slash-command responses.
func (d *ChanOps) dispatchableMessage(m *discordgo.Message) bool {
	if m == nil || m.Author == nil || m.Author.Bot {
		return false
	}
	if m.GuildID == "" {
		return false
	}
	if m.Interaction != nil {
		return false
	}
	return true
}

// recordUserActivity bumps the author's LastSeen (and MessageCount,
// for new messages), creating the user record on first sight.
func (d *ChanOps) recordUserActivity(
	ctx context.Context,
	userID string,
	countMessage bool,
) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}
	user, err := d.store.UserData(ctx, userID)
	if err != nil {
		logger.ErrorContext(ctx, "error reading user record", tint.Err(err))
		return
	}
	if user == nil {
		user = NewUserData()
	}
	user.LastSeen = time.Now().UnixMilli()
	if countMessage {
		user.MessageCount++
	}
	if err = d.store.SaveUserData(ctx, userID, user); err != nil {
		logger.ErrorContext(ctx, "error saving user record", tint.Err(err))
	}
}

// enforceRules evaluates each configured rule against the message and
// deletes it on the first violation. Deletion is best effort: a failed
// delete (ex: missing permission) is logged and swallowed, never
// retried. Unknown rule names are skipped. History-lookup failures on
// context rules leave the message alone.
func (d *ChanOps) enforceRules(
	ctx context.Context,
	rules *RulesPlugin,
	m *discordgo.Message,
) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = d.logger
	}
	for _, rule := range rules.Rules {
		builtin, found := LookupBuiltin(rule.Name)
		if !found {
			continue
		}

		var conforms bool
		var err error
		if builtin.UsesContent() {
			conforms = builtin.Content(trimmedContent(m))
		} else {
			conforms, err = builtin.Context(ctx, d.discord.session, m)
			if err != nil {
				logger.WarnContext(
					ctx,
					"error evaluating context rule",
					tint.Err(err),
					"rule", rule.Name,
				)
				continue
			}
		}
		if conforms {
			continue
		}

		deleteErr := d.discord.session.ChannelMessageDelete(
			m.ChannelID,
			m.ID,
			discordgo.WithContext(ctx),
		)
		if deleteErr != nil {
			// most likely missing permissions
			logger.WarnContext(
				ctx,
				"unable to delete rule-violating message",
				tint.Err(deleteErr),
				"rule", rule.Name,
				"message_id", m.ID,
			)
		}
		return
	}
}

func trimmedContent(m *discordgo.Message) string {
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m.Content)
}
