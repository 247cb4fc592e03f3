package chanops

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHistory serves a canned "previous message" to context rules.
type fakeHistory struct {
	previous *discordgo.Message
	err      error
}

func (f fakeHistory) ChannelMessages(
	_ string,
	_ int,
	_ string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.previous == nil {
		return nil, nil
	}
	return []*discordgo.Message{f.previous}, nil
}

func TestContentRules(t *testing.T) {
	t.Parallel()
	tests := []struct {
		rule     string
		content  string
		conforms bool
	}{
		{RuleOneWordMax, "hello", true},
		{RuleOneWordMax, "hello123", true},
		{RuleOneWordMax, "hello world", false},
		{RuleOneWordMax, "", false},

		{RuleTextOnly, "hello", true},
		{RuleTextOnly, "hello1", false},
		{RuleTextOnly, "hello world", false},

		{RuleNumbersOnly, "12345", true},
		{RuleNumbersOnly, "12a45", false},
		{RuleNumbersOnly, "-1", false},

		{RuleTextAndNumbersOnly, "abc123", true},
		{RuleTextAndNumbersOnly, "abc 123", false},
		{RuleTextAndNumbersOnly, "abc!", false},

		{RuleTextAndPunctuationOnly, "hello, world!", true},
		{RuleTextAndPunctuationOnly, "well...", true},
		{RuleTextAndPunctuationOnly, "42", false},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			fmt.Sprintf("%s/%q", tc.rule, tc.content), func(t *testing.T) {
				t.Parallel()
				rule, ok := LookupBuiltin(tc.rule)
				require.True(t, ok)
				require.True(t, rule.UsesContent())
				assert.Equal(t, tc.conforms, rule.Content(tc.content))
			},
		)
	}
}

func TestLookupBuiltinUnknown(t *testing.T) {
	t.Parallel()
	_, ok := LookupBuiltin("no-such-rule")
	assert.False(t, ok)
}

func TestBuiltinRuleNamesOrder(t *testing.T) {
	t.Parallel()
	names := BuiltinRuleNames()
	require.Len(t, names, 7)
	// context rules lead the registry so they autocomplete first
	assert.Equal(t, RuleConsecutiveNumbering, names[0])
	assert.Equal(t, RuleAlternatingParticipants, names[1])
}

func TestConsecutiveNumbering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msg := newMessage("2", "channel-1", "user-a", "6")

	t.Run(
		"no previous message conforms vacuously", func(t *testing.T) {
			conforms, err := consecutiveNumbering(ctx, fakeHistory{}, msg)
			require.NoError(t, err)
			assert.True(t, conforms)
		},
	)
	t.Run(
		"increment of previous conforms", func(t *testing.T) {
			history := fakeHistory{
				previous: newMessage("1", "channel-1", "user-b", "5"),
			}
			conforms, err := consecutiveNumbering(ctx, history, msg)
			require.NoError(t, err)
			assert.True(t, conforms)
		},
	)
	t.Run(
		"skipping a number violates", func(t *testing.T) {
			history := fakeHistory{
				previous: newMessage("1", "channel-1", "user-b", "4"),
			}
			conforms, err := consecutiveNumbering(ctx, history, msg)
			require.NoError(t, err)
			assert.False(t, conforms)
		},
	)
	t.Run(
		"non-integer content violates", func(t *testing.T) {
			history := fakeHistory{
				previous: newMessage("1", "channel-1", "user-b", "5"),
			}
			nonInt := newMessage("2", "channel-1", "user-a", "six")
			conforms, err := consecutiveNumbering(ctx, history, nonInt)
			require.NoError(t, err)
			assert.False(t, conforms)
		},
	)
	t.Run(
		"non-integer previous violates", func(t *testing.T) {
			history := fakeHistory{
				previous: newMessage("1", "channel-1", "user-b", "five"),
			}
			conforms, err := consecutiveNumbering(ctx, history, msg)
			require.NoError(t, err)
			assert.False(t, conforms)
		},
	)
	t.Run(
		"whitespace is trimmed", func(t *testing.T) {
			history := fakeHistory{
				previous: newMessage("1", "channel-1", "user-b", " 5 "),
			}
			conforms, err := consecutiveNumbering(ctx, history, msg)
			require.NoError(t, err)
			assert.True(t, conforms)
		},
	)
	t.Run(
		"history error surfaces", func(t *testing.T) {
			history := fakeHistory{err: fmt.Errorf("boom")}
			_, err := consecutiveNumbering(ctx, history, msg)
			assert.Error(t, err)
		},
	)
}

func TestAlternatingParticipants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	msg := newMessage("2", "channel-1", "user-a", "hi")

	t.Run(
		"no previous message conforms vacuously", func(t *testing.T) {
			conforms, err := alternatingParticipants(ctx, fakeHistory{}, msg)
			require.NoError(t, err)
			assert.True(t, conforms)
		},
	)
	t.Run(
		"different author conforms", func(t *testing.T) {
			history := fakeHistory{
				previous: newMessage("1", "channel-1", "user-b", "hello"),
			}
			conforms, err := alternatingParticipants(ctx, history, msg)
			require.NoError(t, err)
			assert.True(t, conforms)
		},
	)
	t.Run(
		"same author violates", func(t *testing.T) {
			history := fakeHistory{
				previous: newMessage("1", "channel-1", "user-a", "hello"),
			}
			conforms, err := alternatingParticipants(ctx, history, msg)
			require.NoError(t, err)
			assert.False(t, conforms)
		},
	)
}
