package chanops

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	RuleOneWordMax              = "one-word-max"
	RuleTextOnly                = "text-only"
	RuleNumbersOnly             = "numbers-only"
	RuleTextAndNumbersOnly      = "text-and-numbers-only"
	RuleTextAndPunctuationOnly  = "text-and-punctuation-only"
	RuleConsecutiveNumbering    = "force-consecutive-numbering"
	RuleAlternatingParticipants = "force-alternating-participants"
)

var (
	oneWordPattern        = regexp.MustCompile(`^\w+$`)
	textOnlyPattern       = regexp.MustCompile(`^[a-zA-Z]+$`)
	numbersOnlyPattern    = regexp.MustCompile(`^\d+$`)
	textAndNumbersPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	textAndPunctPattern   = regexp.MustCompile(
		"^[a-zA-Z\\s.,/#!$%^&*;:{}=\\-_`~()]+$",
	)
)

// ChannelHistory is the slice of discordgo.Session used by context
// rules and the export backfill to page through channel history.
// Pages are returned newest first.
type ChannelHistory interface {
	ChannelMessages(
		channelID string,
		limit int,
		beforeID string,
		afterID string,
		aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)
}

// BuiltinRule is one entry in the builtin rule registry. Exactly one
// of Content or Context is set: content rules are pure predicates over
// the trimmed message text, context rules additionally need the
// message's author and the immediately preceding channel message.
//
// Both return true for a conforming message and false for a violation.
type BuiltinRule struct {
	Name string

	Content func(content string) bool

	Context func(
		ctx context.Context,
		history ChannelHistory,
		m *discordgo.Message,
	) (bool, error)
}

// UsesContent reports whether this is a content rule (evaluated on the
// message text alone).
func (b BuiltinRule) UsesContent() bool {
	return b.Content != nil
}

// builtinRules is the fixed registry of named predicates, in the order
// offered to autocomplete.
var builtinRules = []BuiltinRule{
	{
		Name:    RuleConsecutiveNumbering,
		Context: consecutiveNumbering,
	},
	{
		Name:    RuleAlternatingParticipants,
		Context: alternatingParticipants,
	},
	{
		Name:    RuleOneWordMax,
		Content: oneWordPattern.MatchString,
	},
	{
		Name:    RuleTextOnly,
		Content: textOnlyPattern.MatchString,
	},
	{
		Name:    RuleNumbersOnly,
		Content: numbersOnlyPattern.MatchString,
	},
	{
		Name:    RuleTextAndNumbersOnly,
		Content: textAndNumbersPattern.MatchString,
	},
	{
		Name:    RuleTextAndPunctuationOnly,
		Content: textAndPunctPattern.MatchString,
	},
}

// LookupBuiltin returns the builtin rule registered under the given
// name. Callers must treat a miss as a skip, not a failure, so stored
// rule records referencing removed builtins are harmless.
func LookupBuiltin(name string) (BuiltinRule, bool) {
	for _, b := range builtinRules {
		if b.Name == name {
			return b, true
		}
	}
	return BuiltinRule{}, false
}

// BuiltinRuleNames returns the registered rule names in registry order.
func BuiltinRuleNames() []string {
	names := make([]string, 0, len(builtinRules))
	for _, b := range builtinRules {
		names = append(names, b.Name)
	}
	return names
}

// previousMessage fetches the message immediately preceding m in its
// channel. Returns nil when m is the first message in the channel.
func previousMessage(
	history ChannelHistory,
	m *discordgo.Message,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msgs, err := history.ChannelMessages(
		m.ChannelID, 1, m.ID, "", "", options...,
	)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[0], nil
}

// consecutiveNumbering requires each message's integer content to be
// exactly one greater than the previous message's. Non-integer content
// on either side violates the rule. The first message in a channel
// conforms vacuously.
func consecutiveNumbering(
	ctx context.Context,
	history ChannelHistory,
	m *discordgo.Message,
) (bool, error) {
	prev, err := previousMessage(history, m, discordgo.WithContext(ctx))
	if err != nil {
		return false, err
	}
	if prev == nil {
		return true, nil
	}
	current, err := strconv.Atoi(strings.TrimSpace(m.Content))
	if err != nil {
		return false, nil
	}
	last, err := strconv.Atoi(strings.TrimSpace(prev.Content))
	if err != nil {
		return false, nil
	}
	return current == last+1, nil
}

// alternatingParticipants requires each message's author to differ
// from the previous message's author. The first message in a channel
// conforms vacuously.
func alternatingParticipants(
	ctx context.Context,
	history ChannelHistory,
	m *discordgo.Message,
) (bool, error) {
	prev, err := previousMessage(history, m, discordgo.WithContext(ctx))
	if err != nil {
		return false, err
	}
	if prev == nil || prev.Author == nil || m.Author == nil {
		return true, nil
	}
	return m.Author.ID != prev.Author.ID, nil
}
