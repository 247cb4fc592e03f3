package chanops

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

const (
	// PluginRules enforces formatting rules on channel messages
	PluginRules PluginName = "rules"

	// PluginStatistics accumulates message/word/participant counters
	PluginStatistics PluginName = "statistics"

	// PluginExport buffers channel messages for the /export command
	PluginExport PluginName = "export"
)

const (
	// MaxExportChannels is the maximum number of channels per guild
	// that may have the export plugin mounted at the same time.
	MaxExportChannels = 2

	// DefaultExportMaxMessageLength is the content length above which
	// the export plugin won't buffer a message. Discord's own message
	// limit is currently 2000 characters.
	DefaultExportMaxMessageLength = 2000
)

// PluginName identifies one of the channel plugin kinds. The set of
// names is closed - see [UnmarshalChannelPlugin].
type PluginName string

func (p PluginName) String() string { return string(p) }

// PluginNames returns every known plugin name, in display order.
func PluginNames() []PluginName {
	return []PluginName{PluginRules, PluginStatistics, PluginExport}
}

// ChannelPlugin is one per-channel capability record. It's a closed
// union: the only implementations are [RulesPlugin], [StatisticsPlugin]
// and [ExportPlugin], each discriminated by the `name` field when
// (un)marshaled. Code that dispatches on the concrete type should
// type-switch over all three and treat anything else as an error, so
// adding a new plugin kind is caught at compile time by the sealed
// channelPlugin method.
type ChannelPlugin interface {
	// Name returns the discriminator for this plugin record
	Name() PluginName

	// Meta returns the mutable state shared by every plugin kind
	Meta() *PluginMeta

	channelPlugin()
}

// PluginMeta is the state every plugin record carries, regardless of
// kind. A plugin is "enabled" independently of being mounted: disabled
// plugins keep their state but are skipped by the message dispatcher.
type PluginMeta struct {
	// Readable is the human-facing module title shown in embeds
	Readable string `json:"readable"`

	// Emoji is the display emoji shortcode, like ":scroll:"
	Emoji string `json:"emoji"`

	Enabled bool `json:"enabled"`

	// MountedAt is the unix millisecond timestamp the plugin was
	// added to the channel
	MountedAt int64 `json:"date"`
}

func (m *PluginMeta) Meta() *PluginMeta { return m }

// Rule references a named predicate. Builtin rules resolve against
// the builtin rule registry; the flag is kept in the record so a
// custom-rule variant can be added later without a data migration.
type Rule struct {
	Name    string `json:"name"`
	Builtin bool   `json:"builtin"`
}

// RulesPlugin holds the ordered formatting rules evaluated against
// every message (and edit) in the channel.
type RulesPlugin struct {
	PluginMeta
	Rules []Rule `json:"rules"`
}

func (*RulesPlugin) Name() PluginName { return PluginRules }
func (*RulesPlugin) channelPlugin()   {}

// HasRule reports whether a rule with the given name is present.
func (p *RulesPlugin) HasRule(name string) bool {
	for _, r := range p.Rules {
		if r.Name == name {
			return true
		}
	}
	return false
}

// RemoveRule removes the named rule, reporting whether it was present.
func (p *RulesPlugin) RemoveRule(name string) bool {
	for i, r := range p.Rules {
		if r.Name == name {
			p.Rules = append(p.Rules[:i], p.Rules[i+1:]...)
			return true
		}
	}
	return false
}

func (p RulesPlugin) MarshalJSON() ([]byte, error) {
	type alias RulesPlugin
	return json.Marshal(
		struct {
			Name PluginName `json:"name"`
			alias
		}{Name: PluginRules, alias: alias(p)},
	)
}

// StatisticsPlugin accumulates monotonically-increasing channel
// activity counters from the moment it's mounted.
type StatisticsPlugin struct {
	PluginMeta
	MessageCount int `json:"nmessages"`
	WordCount    int `json:"nwords"`

	// Participants is the set of user IDs seen in the channel,
	// stored as a slice for JSON stability
	Participants []string `json:"nparticipants"`
}

func (*StatisticsPlugin) Name() PluginName { return PluginStatistics }
func (*StatisticsPlugin) channelPlugin()   {}

// AddParticipant adds the user ID to the participant set if absent.
func (p *StatisticsPlugin) AddParticipant(userID string) {
	for _, id := range p.Participants {
		if id == userID {
			return
		}
	}
	p.Participants = append(p.Participants, userID)
}

func (p StatisticsPlugin) MarshalJSON() ([]byte, error) {
	type alias StatisticsPlugin
	return json.Marshal(
		struct {
			Name PluginName `json:"name"`
			alias
		}{Name: PluginStatistics, alias: alias(p)},
	)
}

// ExportPlugin buffers channel message contents, newest first.
// Dirty is true while the mount-time history backfill is in flight;
// the /export command must refuse to run until it flips to false.
type ExportPlugin struct {
	PluginMeta
	Dirty    bool     `json:"dirty"`
	Messages []string `json:"messages"`

	// MaxMessageLength is the exclusive upper bound on the content
	// length of buffered messages
	MaxMessageLength int `json:"maxMessageLength"`
}

func (*ExportPlugin) Name() PluginName { return PluginExport }
func (*ExportPlugin) channelPlugin()   {}

func (p ExportPlugin) MarshalJSON() ([]byte, error) {
	type alias ExportPlugin
	return json.Marshal(
		struct {
			Name PluginName `json:"name"`
			alias
		}{Name: PluginExport, alias: alias(p)},
	)
}

// NewChannelPlugin creates a fresh, enabled plugin record of the given
// kind, with MountedAt set to the current time.
func NewChannelPlugin(name PluginName) (ChannelPlugin, error) {
	now := time.Now().UnixMilli()
	switch name {
	case PluginRules:
		return &RulesPlugin{
			PluginMeta: PluginMeta{
				Readable:  "Formatting Enforcement Module",
				Emoji:     ":scroll:",
				Enabled:   true,
				MountedAt: now,
			},
			Rules: []Rule{},
		}, nil
	case PluginStatistics:
		return &StatisticsPlugin{
			PluginMeta: PluginMeta{
				Readable:  "Statistics & Metrics Module",
				Emoji:     ":bar_chart:",
				Enabled:   true,
				MountedAt: now,
			},
			Participants: []string{},
		}, nil
	case PluginExport:
		return &ExportPlugin{
			PluginMeta: PluginMeta{
				Readable:  "Message Export Module",
				Emoji:     ":outbox_tray:",
				Enabled:   true,
				MountedAt: now,
			},
			Dirty:            true,
			Messages:         []string{},
			MaxMessageLength: DefaultExportMaxMessageLength,
		}, nil
	default:
		return nil, fmt.Errorf("unknown plugin: %s", name)
	}
}

// UnmarshalChannelPlugin decodes a plugin record, dispatching on the
// `name` discriminator.
func UnmarshalChannelPlugin(data []byte) (ChannelPlugin, error) {
	var tag struct {
		Name PluginName `json:"name"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("error reading plugin discriminator: %w", err)
	}
	switch tag.Name {
	case PluginRules:
		p := &RulesPlugin{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, err
		}
		return p, nil
	case PluginStatistics:
		p := &StatisticsPlugin{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, err
		}
		return p, nil
	case PluginExport:
		p := &ExportPlugin{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown plugin: %q", tag.Name)
	}
}

// ChannelData holds the plugins mounted on a single channel, at most
// one per plugin name. Created lazily the first time a command or
// message is seen in the channel.
type ChannelData struct {
	Plugins []ChannelPlugin `json:"plugins"`
}

func (c *ChannelData) UnmarshalJSON(data []byte) error {
	var raw struct {
		Plugins []json.RawMessage `json:"plugins"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Plugins = make([]ChannelPlugin, 0, len(raw.Plugins))
	for _, rp := range raw.Plugins {
		p, err := UnmarshalChannelPlugin(rp)
		if err != nil {
			return err
		}
		c.Plugins = append(c.Plugins, p)
	}
	return nil
}

// Plugin returns the mounted plugin with the given name, or nil.
func (c *ChannelData) Plugin(name PluginName) ChannelPlugin {
	if c == nil {
		return nil
	}
	for _, p := range c.Plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// HasPlugin reports whether a plugin with the given name is mounted.
func (c *ChannelData) HasPlugin(name PluginName) bool {
	return c.Plugin(name) != nil
}

// RulesPlugin returns the mounted rules plugin, or nil.
func (c *ChannelData) RulesPlugin() *RulesPlugin {
	if p, ok := c.Plugin(PluginRules).(*RulesPlugin); ok {
		return p
	}
	return nil
}

// StatisticsPlugin returns the mounted statistics plugin, or nil.
func (c *ChannelData) StatisticsPlugin() *StatisticsPlugin {
	if p, ok := c.Plugin(PluginStatistics).(*StatisticsPlugin); ok {
		return p
	}
	return nil
}

// ExportPlugin returns the mounted export plugin, or nil.
func (c *ChannelData) ExportPlugin() *ExportPlugin {
	if p, ok := c.Plugin(PluginExport).(*ExportPlugin); ok {
		return p
	}
	return nil
}

// AddPlugin mounts the given plugin, enforcing at most one instance
// of each name per channel.
func (c *ChannelData) AddPlugin(p ChannelPlugin) error {
	if c.HasPlugin(p.Name()) {
		return fmt.Errorf("plugin already mounted: %s", p.Name())
	}
	c.Plugins = append(c.Plugins, p)
	return nil
}

// RemovePlugin unmounts the named plugin, reporting whether it was
// mounted. Removal discards the plugin's accumulated state.
func (c *ChannelData) RemovePlugin(name PluginName) bool {
	for i, p := range c.Plugins {
		if p.Name() == name {
			c.Plugins = append(c.Plugins[:i], c.Plugins[i+1:]...)
			return true
		}
	}
	return false
}

// GuildData is the whole-guild persistence record: a mapping from
// channel ID to that channel's plugin set. It's read, modified and
// written back as a unit - persistence is last-write-wins at this
// granularity.
type GuildData struct {
	Channels map[string]*ChannelData `json:"channels"`
}

func NewGuildData() *GuildData {
	return &GuildData{Channels: map[string]*ChannelData{}}
}

// Channel returns the channel record for the given ID, or nil.
func (g *GuildData) Channel(channelID string) *ChannelData {
	if g == nil {
		return nil
	}
	return g.Channels[channelID]
}

// EnsureChannel returns the channel record for the given ID, creating
// an empty one if absent.
func (g *GuildData) EnsureChannel(channelID string) *ChannelData {
	if g.Channels == nil {
		g.Channels = map[string]*ChannelData{}
	}
	c := g.Channels[channelID]
	if c == nil {
		c = &ChannelData{Plugins: []ChannelPlugin{}}
		g.Channels[channelID] = c
	}
	return c
}

// ExportChannelCount returns the number of channels in the guild with
// an export plugin mounted, for enforcing [MaxExportChannels].
func (g *GuildData) ExportChannelCount() int {
	var n int
	for _, c := range g.Channels {
		if c.HasPlugin(PluginExport) {
			n++
		}
	}
	return n
}

func (g *GuildData) LogValue() slog.Value {
	if g == nil {
		return slog.Value{}
	}
	return slog.GroupValue(slog.Int("channels", len(g.Channels)))
}

// Alarm is a single pending reminder. Identity, for cancellation and
// for the deferred fire callback, is the owning user ID plus the Date
// field - there's no dedicated ID, so two alarms created by one user
// for the same millisecond are indistinguishable.
type Alarm struct {
	Message string `json:"message"`

	// Started is the unix millisecond creation time
	Started int64 `json:"started"`

	// Date is the unix millisecond fire time
	Date int64 `json:"date"`
}

func (a Alarm) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("started", a.Started),
		slog.Int64("date", a.Date),
	)
}

// UserData is the per-user persistence record, created lazily on a
// user's first interaction or message.
type UserData struct {
	Alarms []Alarm `json:"alarms"`

	// Joined is the unix millisecond timestamp the user was first seen
	Joined int64 `json:"joined"`

	// LastSeen is updated on every message and interaction
	LastSeen int64 `json:"lastSeen"`

	// MessageCount counts every guild message seen from the user
	MessageCount int `json:"nmessages"`
}

func NewUserData() *UserData {
	now := time.Now().UnixMilli()
	return &UserData{
		Alarms:   []Alarm{},
		Joined:   now,
		LastSeen: now,
	}
}

// RemoveAlarmAt removes the alarm whose fire time matches the given
// unix millisecond timestamp, reporting whether one was found. Only
// the first match is removed.
func (u *UserData) RemoveAlarmAt(date int64) bool {
	for i, a := range u.Alarms {
		if a.Date == date {
			u.Alarms = append(u.Alarms[:i], u.Alarms[i+1:]...)
			return true
		}
	}
	return false
}

func (u *UserData) LogValue() slog.Value {
	if u == nil {
		return slog.Value{}
	}
	return slog.GroupValue(
		slog.Int("alarms", len(u.Alarms)),
		slog.Int64("last_seen", u.LastSeen),
		slog.Int("message_count", u.MessageCount),
	)
}
