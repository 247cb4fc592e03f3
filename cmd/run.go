package cmd

import (
	"log"

	"github.com/arcward/chanops/chanops"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the ChanOps bot and (optionally) the admin API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := chanops.New(cfg)
		if err != nil {
			log.Fatalf("error creating chanops: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running chanops: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
