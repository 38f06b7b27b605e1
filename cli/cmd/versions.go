package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bugtracker/history-stack/cli/internal/client"
	"github.com/bugtracker/history-stack/cli/pkg/output"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Item version history",
	Long:  "Browse and delete the version history of tickets, tasks and subtasks",
}

func versionsClient(cmd *cobra.Command) *client.VersionsClient {
	p := activeProfile(cmd)
	return client.NewVersionsClient(p.VersioningURL, p.AccessToken)
}

var versionsListCmd = &cobra.Command{
	Use:   "list [type] [item-id]",
	Short: "List versions of an item, oldest first",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		startAfter, _ := cmd.Flags().GetString("start-after")
		all, _ := cmd.Flags().GetBool("all")

		ctx, cancel := requestContext(cmd)
		defer cancel()

		c := versionsClient(cmd)
		var versions []client.Version
		next := startAfter
		for {
			page, err := c.List(ctx, args[0], args[1], limit, next)
			if err != nil {
				return fmt.Errorf("failed to list versions: %w", err)
			}
			versions = append(versions, page.Versions...)
			next = page.NextStartAfter
			if !all || next == "" {
				break
			}
		}

		if format == output.FormatJSON {
			return output.JSON(client.VersionPage{Versions: versions, NextStartAfter: next})
		}

		table := output.NewTable("Version", "Id", "Timestamp", "Deleted")
		for _, v := range versions {
			table.AddRow(strconv.FormatInt(v.Version, 10), v.ID, formatMillis(v.Timestamp), strconv.FormatBool(v.Deleted))
		}
		table.Render()
		if next != "" {
			output.Info("\nMore versions available: --start-after %s", next)
		}
		return nil
	},
}

var versionsGetCmd = &cobra.Command{
	Use:   "get [type] [item-id] [version-id]",
	Short: "Show one version snapshot",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()

		v, err := versionsClient(cmd).Get(ctx, args[0], args[1], args[2])
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		if format == output.FormatJSON {
			return output.JSON(v)
		}
		output.Info("Version:   %d", v.Version)
		output.Info("Id:        %s", v.ID)
		output.Info("Timestamp: %s", formatMillis(v.Timestamp))
		return output.JSON(v.Data)
	},
}

var versionsDeleteCmd = &cobra.Command{
	Use:   "delete [type] [item-id] [version-id...]",
	Short: "Delete versions of an item",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := versionsClient(cmd).DeleteVersions(ctx, args[0], args[1], args[2:]); err != nil {
			return fmt.Errorf("failed to delete versions: %w", err)
		}
		output.Success("Deleted %d version(s) of %s %s", len(args)-2, args[0], args[1])
		return nil
	},
}

var versionsDeleteItemCmd = &cobra.Command{
	Use:   "delete-item [type] [item-id]",
	Short: "Delete an item with its whole history (admin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()

		if err := versionsClient(cmd).DeleteItem(ctx, args[0], args[1]); err != nil {
			return fmt.Errorf("failed to delete item: %w", err)
		}
		output.Success("Deleted %s %s and its history", args[0], args[1])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionsCmd)
	versionsCmd.AddCommand(versionsListCmd, versionsGetCmd, versionsDeleteCmd, versionsDeleteItemCmd)

	versionsListCmd.Flags().Int("limit", 20, "page size")
	versionsListCmd.Flags().String("start-after", "", "version id to continue after")
	versionsListCmd.Flags().Bool("all", false, "follow pages until the end of the history")
}
