package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bugtracker/history-stack/cli/internal/config"
	"github.com/bugtracker/history-stack/cli/pkg/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Create or update a profile and make it current",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, ok := cfg.Profiles[args[0]]
		if !ok {
			p = &config.Profile{}
		}
		flags := cmd.Flags()
		for flag, field := range map[string]*string{
			"versioning-url": &p.VersioningURL,
			"logger-url":     &p.LoggerURL,
			"userdir-url":    &p.UserdirURL,
			"nats-url":       &p.NATSURL,
			"token":          &p.AccessToken,
			"signing-secret": &p.SigningSecret,
		} {
			if flags.Changed(flag) {
				*field, _ = flags.GetString(flag)
			}
		}
		if err := cfg.SaveProfile(args[0], p); err != nil {
			return fmt.Errorf("failed to save profile: %w", err)
		}
		output.Success("Profile '%s' saved and selected", args[0])
		return nil
	},
}

var profileUseCmd = &cobra.Command{
	Use:   "use [name]",
	Short: "Select the current profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, ok := cfg.Profiles[args[0]]; !ok {
			return fmt.Errorf("profile '%s' not found", args[0])
		}
		cfg.CurrentProfile = args[0]
		if err := cfg.Save(); err != nil {
			return err
		}
		output.Success("Using profile '%s'", args[0])
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings of the selected profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		p := activeProfile(cmd)
		table := output.NewTable("Setting", "Value")
		table.AddRow("versioning_url", p.VersioningURL)
		table.AddRow("logger_url", p.LoggerURL)
		table.AddRow("userdir_url", p.UserdirURL)
		table.AddRow("nats_url", p.NATSURL)
		table.AddRow("access_token", redact(p.AccessToken))
		table.AddRow("signing_secret", redact(p.SigningSecret))
		table.Render()
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove [name]",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.RemoveProfile(args[0]); err != nil {
			return err
		}
		output.Success("Profile '%s' removed", args[0])
		return nil
	},
}

func redact(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd, profileUseCmd, profileShowCmd, profileRemoveCmd)

	profileSetCmd.Flags().String("versioning-url", "", "versioning service base URL")
	profileSetCmd.Flags().String("logger-url", "", "logger service base URL")
	profileSetCmd.Flags().String("userdir-url", "", "user directory base URL")
	profileSetCmd.Flags().String("nats-url", "", "NATS server URL")
	profileSetCmd.Flags().String("token", "", "access token")
	profileSetCmd.Flags().String("signing-secret", "", "audit signing secret used by seed")
}
