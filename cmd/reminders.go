package cmd

import (
	"fmt"
	"log"
	"log/slog"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/Magnus-zzz/Whiteout-Survival--Discord-bot/angel"
	"github.com/spf13/cobra"
)

var reminderFilter angel.ReminderFilter

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "List or delete reminders without connecting to discord",
}

var remindersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reminders, soonest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, closeDB, err := openReminderStore(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		reminders, err := store.List(cmd.Context(), reminderFilter)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCHANNEL\tCREATOR\tNEXT\tREPEATS\tMESSAGE")
		for _, r := range reminders {
			repeats := "-"
			if r.Recurring() {
				repeats = r.Interval.Duration.String()
			}
			fmt.Fprintf(
				w,
				"%d\t%s\t%s\t%s\t%s\t%s\n",
				r.ID,
				r.ChannelID,
				r.CreatorID,
				r.FireTime().Format(time.RFC3339),
				repeats,
				truncateMessage(r.Message, 40),
			)
		}
		return w.Flush()
	},
}

var remindersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a reminder by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || id == 0 {
			return fmt.Errorf("invalid reminder id: %q", args[0])
		}

		store, closeDB, err := openReminderStore(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		if err = store.Delete(cmd.Context(), uint(id), ""); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted reminder %d\n", id)
		return nil
	},
}

// openReminderStore opens (and migrates) the configured database. The
// returned func closes it.
func openReminderStore(cmd *cobra.Command) (*angel.ReminderStore, func(), error) {
	db, err := angel.CreateDB(cmd.Context(), cfg.DatabaseType, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			if closeErr := sqlDB.Close(); closeErr != nil {
				log.Printf("error closing database: %v", closeErr)
			}
		}
	}
	logger := slog.Default()
	writeDB := angel.NewDatabase(db, logger, cfg.DatabaseType == "postgres")
	return angel.NewReminderStore(writeDB, logger), closeDB, nil
}

func truncateMessage(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

//nolint:gochecknoinits
func init() {
	remindersListCmd.Flags().StringVar(&reminderFilter.ChannelID, "channel", "", "Only reminders for this channel ID")
	remindersListCmd.Flags().StringVar(&reminderFilter.CreatorID, "creator", "", "Only reminders created by this user ID")
	remindersListCmd.Flags().IntVar(&reminderFilter.Limit, "limit", 0, "Maximum number of reminders (0 for all)")

	remindersCmd.AddCommand(remindersListCmd, remindersDeleteCmd)
	rootCmd.AddCommand(remindersCmd)
}
