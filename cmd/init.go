package cmd

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"syscall"

	"github.com/Magnus-zzz/Whiteout-Survival--Discord-bot/angel"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var (
	customPasswordReader passwordReader
	resetAdmin           bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set admin API credentials",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable ANGEL_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable ANGEL_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		// Run database migrations
		db, err := angel.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		var existing int64
		if err = db.WithContext(ctx).Model(&angel.AdminCredential{}).Count(&existing).Error; err != nil {
			log.Fatalf("Error checking admin credentials: %v", err)
		}

		out := cmd.OutOrStdout()
		if existing > 0 && !resetAdmin {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else {
			fmt.Fprintln(out, "Let's set up admin API credentials.")

			reader := bufio.NewReader(cmd.InOrStdin())
			fmt.Fprint(out, "Enter admin username: ")
			username, _ := reader.ReadString('\n')
			username = strings.TrimSpace(username)

			if customPasswordReader == nil {
				customPasswordReader = func() ([]byte, error) {
					return term.ReadPassword(int(syscall.Stdin))
				}
			}

			var password string
			for {
				fmt.Fprint(out, "Enter admin password: ")
				passwordBytes, _ := customPasswordReader()
				password = string(passwordBytes)
				fmt.Fprintln(out)

				fmt.Fprint(out, "Confirm admin password: ")
				confirmPasswordBytes, _ := customPasswordReader()
				fmt.Fprintln(out)

				if password != "" && password == string(confirmPasswordBytes) {
					break
				}
				fmt.Fprintln(out, "Passwords are empty or do not match. Please try again.")
			}

			writeDB := angel.NewDatabase(db, nil, cfg.DatabaseType == "postgres")
			if err = angel.SetAdminCredential(ctx, writeDB, username, password); err != nil {
				log.Fatalf("Error saving admin credentials: %v", err)
			}
			fmt.Fprintln(out, "Admin credentials set successfully.")
		}

		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

//nolint:gochecknoinits
func init() {
	initCmd.Flags().BoolVar(
		&resetAdmin,
		"reset-admin",
		false,
		"Prompt for admin credentials even if some are already set",
	)
	rootCmd.AddCommand(initCmd)
}
