package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bugtracker/history-stack/cli/internal/client"
	"github.com/bugtracker/history-stack/cli/pkg/output"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Audit and monitoring logs",
	Long:  "Inspect and delete log entries stored by the logger service. Requires an admin token.",
}

func logsClient(cmd *cobra.Command) *client.LogsClient {
	p := activeProfile(cmd)
	return client.NewLogsClient(p.LoggerURL, p.AccessToken)
}

var logsListCmd = &cobra.Command{
	Use:   "list [type]",
	Short: "List a day's entries of one type, newest first",
	Long:  "List log entries of type audit, info or error. --day defaults to today (UTC).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		day, _ := cmd.Flags().GetString("day")
		if day == "" {
			day = time.Now().UTC().Format(time.DateOnly)
		}
		limit, _ := cmd.Flags().GetInt("limit")
		startAfter, _ := cmd.Flags().GetString("start-after")

		ctx, cancel := requestContext(cmd)
		defer cancel()

		page, err := logsClient(cmd).List(ctx, day, args[0], limit, startAfter)
		if err != nil {
			return fmt.Errorf("failed to list logs: %w", err)
		}
		if format == output.FormatJSON {
			return output.JSON(page)
		}

		table := output.NewTable("Timestamp", "Id", "Actor", "Request", "Status", "Message")
		for _, e := range page.Logs {
			table.AddRow(
				formatMillis(e.Timestamp),
				e.ID,
				e.Actor.Username,
				e.RequestDetails.Method+" "+e.RequestDetails.Endpoint,
				strconv.Itoa(e.RequestDetails.Status),
				e.Message,
			)
		}
		table.Render()
		if page.NextStartAfter != "" {
			output.Info("\nMore entries available: --start-after %s", page.NextStartAfter)
		}
		return nil
	},
}

var logsGetCmd = &cobra.Command{
	Use:   "get [day] [type] [log-id]",
	Short: "Show one log entry",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		entry, err := logsClient(cmd).Get(ctx, args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("failed to get log: %w", err)
		}
		return output.JSON(entry)
	},
}

var logsDeleteCmd = &cobra.Command{
	Use:   "delete [day] [type] [log-id]",
	Short: "Delete one log entry",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := logsClient(cmd).Delete(ctx, args[0], args[1], args[2]); err != nil {
			return fmt.Errorf("failed to delete log: %w", err)
		}
		output.Success("Log %s deleted", args[2])
		return nil
	},
}

var logsDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Log events the logger could not store",
}

var logsDLQStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dead letter stream statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		stats, err := logsClient(cmd).DLQStats(ctx)
		if err != nil {
			return fmt.Errorf("failed to get dlq stats: %w", err)
		}
		return output.JSON(stats)
	},
}

var logsDLQListCmd = &cobra.Command{
	Use:   "list",
	Short: "List parked log events",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		reason, _ := cmd.Flags().GetString("reason")
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := requestContext(cmd)
		defer cancel()

		failed, err := logsClient(cmd).DLQList(ctx, reason, limit)
		if err != nil {
			return fmt.Errorf("failed to list dlq: %w", err)
		}
		if format == output.FormatJSON {
			return output.JSON(failed)
		}

		table := output.NewTable("Parked", "Reason", "Attempts", "Subject", "Error")
		for _, f := range failed {
			table.AddRow(f.Timestamp.Format(time.RFC3339), f.Reason, strconv.FormatUint(f.Attempts, 10), f.Subject, f.Error)
		}
		table.Render()
		return nil
	},
}

var logsDLQPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop every parked log event",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to purge without --yes")
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := logsClient(cmd).DLQPurge(ctx); err != nil {
			return fmt.Errorf("failed to purge dlq: %w", err)
		}
		output.Success("Dead letter stream purged")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsListCmd, logsGetCmd, logsDeleteCmd, logsDLQCmd)
	logsDLQCmd.AddCommand(logsDLQStatsCmd, logsDLQListCmd, logsDLQPurgeCmd)

	logsListCmd.Flags().String("day", "", "day to list, YYYY-MM-DD (default: today)")
	logsListCmd.Flags().Int("limit", 20, "page size")
	logsListCmd.Flags().String("start-after", "", "log id to continue after")

	logsDLQListCmd.Flags().String("reason", "", "only list this reason: decode, rejected, exhausted")
	logsDLQListCmd.Flags().Int("limit", 100, "maximum entries")
	logsDLQPurgeCmd.Flags().Bool("yes", false, "confirm the purge")
}
