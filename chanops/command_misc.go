package chanops

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// appCommandFlip defines /flip, a coin toss.
func appCommandFlip() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandFlip,
		Description: "Flip a coin",
	}
}

func (c *ChanOps) handleCommandFlip(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	err := c.respondText(ctx, i, ":coin:  Flipping...", false)
	if err != nil {
		return err
	}

	result := "Heads!"
	if rand.Intn(2) == 1 {
		result = "Tails!"
	}
	// short suspense beat before the reveal
	go func() {
		time.Sleep(time.Second)
		content := fmt.Sprintf(":coin:  %s", result)
		_, editErr := c.discord.session.InteractionResponseEdit(
			i.Interaction,
			&discordgo.WebhookEdit{Content: &content},
		)
		if editErr != nil {
			c.logger.Warn("error revealing coin flip", tint.Err(editErr))
		}
	}()
	return nil
}

// appCommandPing defines /ping, reporting round trip latency.
func appCommandPing() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandPing,
		Description: "Check that the bot is responsive",
	}
}

func (c *ChanOps) handleCommandPing(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	created, err := discordgo.SnowflakeTimestamp(i.ID)
	if err != nil {
		return c.respondText(ctx, i, ":ping_pong:  Pong!", true)
	}
	return c.respondText(
		ctx, i,
		fmt.Sprintf(
			":ping_pong:  Pong! (%dms)",
			time.Since(created).Milliseconds(),
		),
		true,
	)
}
