package cmd

import (
	"log"

	"github.com/arcward/chanops/chanops"
	"github.com/spf13/cobra"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Register slash commands with Discord and exit",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := chanops.New(cfg)
		if err != nil {
			log.Fatalf("error creating chanops: %s", err.Error())
		}
		commands, err := bot.RegisterSlashCommands(ctx)
		if err != nil {
			log.Fatalf("error registering commands: %s", err.Error())
		}
		for _, c := range commands {
			cmd.Printf("registered: /%s\n", c.Name)
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(deployCmd)
}
