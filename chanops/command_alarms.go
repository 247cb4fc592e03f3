package chanops

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// appCommandAlarms defines the /alarms command for personal reminders.
func appCommandAlarms() *discordgo.ApplicationCommand {
	minDuration := float64(AlarmMinDuration)
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandAlarms,
		Description: "Manage your alarms",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "add",
				Description: "Set an alarm",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        "duration",
						Description: "How long from now the alarm fires",
						Required:    true,
						MinValue:    &minDuration,
						MaxValue:    float64(AlarmMaxDuration),
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "units",
						Description: "Duration units (default minutes)",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "seconds", Value: "seconds"},
							{Name: "minutes", Value: "minutes"},
							{Name: "hours", Value: "hours"},
							{Name: "days", Value: "days"},
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "message",
						Description: "Message delivered when the alarm fires",
						MaxLength:   AlarmMaxMessageLength,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "view",
				Description: "View your pending alarms",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "cancel",
				Description: "Cancel one of your pending alarms",
			},
		},
	}
}

func (c *ChanOps) handleCommandAlarms(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	sub, opts := subcommand(i)
	userID := getDiscordUser(i).ID

	user, err := c.store.UserData(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		user = NewUserData()
	}

	switch sub {
	case "add":
		return c.alarmsAdd(ctx, i, userID, user, opts)
	case "view":
		return c.alarmsView(ctx, i, user)
	case "cancel":
		return c.alarmsCancel(ctx, i, userID, user)
	default:
		return fmt.Errorf("unknown subcommand: %s", sub)
	}
}

func (c *ChanOps) alarmsAdd(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	userID string,
	user *UserData,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
) error {
	duration := int(opts["duration"].IntValue())
	if duration < AlarmMinDuration || duration > AlarmMaxDuration {
		return c.respondText(
			ctx, i,
			fmt.Sprintf(
				":warning:  Duration must be between %d and %d",
				AlarmMinDuration,
				AlarmMaxDuration,
			),
			true,
		)
	}
	unit := DefaultAlarmUnit
	if opt, ok := opts["units"]; ok {
		unit = opt.StringValue()
	}
	var message string
	if opt, ok := opts["message"]; ok {
		message = ellipsize(opt.StringValue(), AlarmMaxMessageLength)
	}

	alarm := NewAlarm(time.Now(), duration, unit, message)
	user.Alarms = append(user.Alarms, alarm)
	if err := c.store.SaveUserData(ctx, userID, user); err != nil {
		return err
	}
	c.alarms.Schedule(userID, i.ChannelID, alarm)

	return c.respondText(
		ctx, i,
		fmt.Sprintf(
			":alarm_clock:  Alarm set! I'll message you <t:%d:R>",
			alarm.Date/1000,
		),
		true,
	)
}

func (c *ChanOps) alarmsView(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *UserData,
) error {
	if len(user.Alarms) == 0 {
		return c.respondText(ctx, i, "You have no pending alarms", true)
	}
	now := time.Now()
	fields := make([]*discordgo.MessageEmbedField, 0, len(user.Alarms))
	for n, alarm := range user.Alarms {
		remaining := formatRemaining(time.UnixMilli(alarm.Date).Sub(now))
		if remaining == "" {
			remaining = "any moment now"
		}
		fields = append(
			fields, &discordgo.MessageEmbedField{
				Name: fmt.Sprintf("Alarm %d", n+1),
				Value: fmt.Sprintf(
					"Fires in %s\n> %s",
					remaining,
					ellipsize(alarm.Message, 100),
				),
			},
		)
	}
	return c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{
					{
						Title:  ":alarm_clock:  Your alarms",
						Color:  embedColor,
						Fields: fields,
					},
				},
				Flags: discordgo.MessageFlagsEphemeral,
			},
		},
		discordgo.WithContext(ctx),
	)
}

// alarmsCancel replies with an ephemeral select menu of the user's
// pending alarms. The selection handler is held in memory for
// [AlarmCancelTimeout]; if nothing is picked by then the prompt is
// deleted. Cancellation removes the alarm record - the scheduler's
// timer is left alone and fires into a no-op.
func (c *ChanOps) alarmsCancel(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	userID string,
	user *UserData,
) error {
	if len(user.Alarms) == 0 {
		return c.respondText(ctx, i, "You have no pending alarms", true)
	}

	now := time.Now()
	options := make([]discordgo.SelectMenuOption, 0, len(user.Alarms))
	for n, alarm := range user.Alarms {
		remaining := formatRemaining(time.UnixMilli(alarm.Date).Sub(now))
		if remaining == "" {
			remaining = "any moment now"
		}
		label := fmt.Sprintf("Alarm %d (fires in %s)", n+1, remaining)
		options = append(
			options, discordgo.SelectMenuOption{
				Label:       ellipsize(label, 100),
				Value:       strconv.FormatInt(alarm.Date, 10),
				Description: ellipsize(alarm.Message, 100),
			},
		)
	}

	customID := randomString(discordComponentCustomIDLength)
	err := c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: "Pick an alarm to cancel:",
				Flags:   discordgo.MessageFlagsEphemeral,
				Components: []discordgo.MessageComponent{
					discordgo.ActionsRow{
						Components: []discordgo.MessageComponent{
							discordgo.SelectMenu{
								MenuType: discordgo.StringSelectMenu,
								CustomID: customID,
								Options:  options,
							},
						},
					},
				},
			},
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return err
	}

	prompt := i.Interaction
	c.registerComponent(
		customID,
		userID,
		func(ctx context.Context, sel *discordgo.InteractionCreate) error {
			return c.cancelSelectedAlarm(ctx, sel, userID)
		},
		func() {
			_ = c.discord.session.InteractionResponseDelete(prompt)
		},
	)
	return nil
}

// cancelSelectedAlarm consumes a selection from the cancel prompt. The
// user record is re-read so an alarm that fired while the prompt sat
// open is reported as already gone.
func (c *ChanOps) cancelSelectedAlarm(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	userID string,
) error {
	values := i.MessageComponentData().Values
	if len(values) == 0 {
		return nil
	}
	date, err := strconv.ParseInt(values[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad alarm selection %q: %w", values[0], err)
	}

	content := ":wastebasket:  Alarm cancelled"
	user, err := c.store.UserData(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil || !user.RemoveAlarmAt(date) {
		content = ":warning:  That alarm already fired or was cancelled"
	} else if err = c.store.SaveUserData(ctx, userID, user); err != nil {
		return err
	}

	return c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Content:    content,
				Components: []discordgo.MessageComponent{},
			},
		},
		discordgo.WithContext(ctx),
	)
}
