package cmd

import (
	"fmt"
	"log"
	"syscall"

	"github.com/arcward/chanops/chanops"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really
// only here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set the admin API token",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable CO_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable CO_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		db, err := chanops.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}
		store := chanops.NewDataStore(db, nil, false)

		out := cmd.OutOrStdout()
		existing, err := store.AdminTokenHash(ctx)
		if err != nil {
			log.Fatalf("Error reading admin token: %v", err)
		}
		if existing != "" {
			fmt.Fprintln(out, "Admin API token is already set.")
			fmt.Fprintln(
				out,
				"Initialization complete. You can now start the bot with the 'run' subcommand.",
			)
			return
		}

		fmt.Fprintln(out, "The admin API token is not set. Let's set it up.")

		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}
		var token string
		for {
			fmt.Fprint(out, "Enter admin API token: ")
			tokenBytes, _ := customPasswordReader()
			token = string(tokenBytes)
			fmt.Fprintln(out)

			fmt.Fprint(out, "Confirm admin API token: ")
			confirmBytes, _ := customPasswordReader()
			confirm := string(confirmBytes)
			fmt.Fprintln(out)

			if token == confirm {
				break
			}
			fmt.Fprintln(out, "Tokens do not match. Please try again.")
		}

		hashed, err := chanops.HashPassword(token)
		if err != nil {
			log.Fatalf("Error hashing token: %v", err)
		}
		if err = store.SetAdminTokenHash(ctx, hashed); err != nil {
			log.Fatalf("Error storing token: %v", err)
		}

		fmt.Fprintln(out, "Admin API token set successfully.")
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(initCmd)
}
