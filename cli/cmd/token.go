package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bugtracker/history-stack/cli/internal/config"
	"github.com/bugtracker/history-stack/cli/pkg/output"
	"github.com/bugtracker/history-stack/common/tokens"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Access token management",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Sign an access token with the services' JWT secret",
	Long:  "Sign a development access token. Use --save to store it in the current profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		issuer, _ := cmd.Flags().GetString("issuer")
		userID, _ := cmd.Flags().GetString("user-id")
		username, _ := cmd.Flags().GetString("username")
		roles, _ := cmd.Flags().GetStringSlice("role")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		save, _ := cmd.Flags().GetBool("save")

		for _, r := range roles {
			if r != tokens.RoleAdmin && r != tokens.RoleProjectManager && r != tokens.RoleDeveloper {
				return fmt.Errorf("unknown role %q", r)
			}
		}

		token, err := tokens.NewSigner(secret, issuer).Generate(userID, username, roles, ttl)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}

		if !save {
			fmt.Fprintln(output.Out, token)
			return nil
		}

		name, _ := cmd.Flags().GetString("profile")
		if name == "" {
			name = cfg.CurrentProfile
		}
		p, ok := cfg.Profiles[name]
		if !ok {
			p = &config.Profile{}
		}
		p.AccessToken = token
		if err := cfg.SaveProfile(name, p); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}
		output.Success("Token for %s (%s) saved to profile '%s'", username, strings.Join(roles, ","), name)
		output.Info("Expires: %s", time.Now().Add(ttl).UTC().Format(time.RFC3339))
		return nil
	},
}

var tokenInspectCmd = &cobra.Command{
	Use:   "inspect [token]",
	Short: "Validate a token and print its claims",
	Long:  "Validate a token against --secret. Without an argument the current profile's token is inspected.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		issuer, _ := cmd.Flags().GetString("issuer")

		raw := activeProfile(cmd).AccessToken
		if len(args) == 1 {
			raw = args[0]
		}
		if raw == "" {
			return fmt.Errorf("no token given and the profile has none")
		}

		claims, err := tokens.NewSigner(secret, issuer).Validate(raw)
		if err != nil {
			return fmt.Errorf("invalid token: %w", err)
		}
		return output.JSON(claims)
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenGenerateCmd, tokenInspectCmd)

	for _, c := range []*cobra.Command{tokenGenerateCmd, tokenInspectCmd} {
		c.Flags().String("secret", "", "JWT secret shared with the services")
		c.Flags().String("issuer", "bugtracker", "token issuer")
		if err := c.MarkFlagRequired("secret"); err != nil {
			panic(fmt.Sprintf("failed to mark secret as required: %v", err))
		}
	}

	tokenGenerateCmd.Flags().String("user-id", "", "subject user id")
	tokenGenerateCmd.Flags().String("username", "", "username claim")
	tokenGenerateCmd.Flags().StringSlice("role", []string{tokens.RoleDeveloper}, "roles: admin, project_manager, developer")
	tokenGenerateCmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")
	tokenGenerateCmd.Flags().Bool("save", false, "store the token in the selected profile")
	if err := tokenGenerateCmd.MarkFlagRequired("user-id"); err != nil {
		panic(fmt.Sprintf("failed to mark user-id as required: %v", err))
	}
}
