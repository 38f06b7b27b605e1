package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bugtracker/history-stack/cli/internal/client"
	"github.com/bugtracker/history-stack/cli/pkg/output"
	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
	"github.com/bugtracker/history-stack/common/rpc"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "User directory",
}

var usersLookupCmd = &cobra.Command{
	Use:   "lookup [user-id...]",
	Short: "Resolve user ids",
	Long: `Resolve user ids and print the known users in request order. Unknown ids are omitted.

By default the lookup is sent as an RPC request over NATS; --http queries the
user directory's HTTP API instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		multiplexed, _ := cmd.Flags().GetBool("multiplexed")
		viaHTTP, _ := cmd.Flags().GetBool("http")

		var users []rpc.User
		if viaHTTP {
			users, err = lookupHTTP(cmd, args)
		} else {
			users, err = lookupRPC(cmd, args, multiplexed)
		}
		if err != nil {
			return fmt.Errorf("users lookup failed: %w", err)
		}
		if format == output.FormatJSON {
			return output.JSON(users)
		}

		table := output.NewTable("Id", "Username", "Name", "Email", "Role")
		for _, u := range users {
			table.AddRow(u.ID, u.Username, strings.TrimSpace(u.FirstName+" "+u.LastName), u.Email, u.Role)
		}
		table.Render()
		if missing := len(args) - len(users); missing > 0 {
			output.Warn("%d id(s) not found", missing)
		}
		return nil
	},
}

func lookupHTTP(cmd *cobra.Command, ids []string) ([]rpc.User, error) {
	ctx, cancel := requestContext(cmd)
	defer cancel()
	p := activeProfile(cmd)
	return client.NewUsersClient(p.UserdirURL, p.AccessToken).Lookup(ctx, ids)
}

func lookupRPC(cmd *cobra.Command, ids []string, multiplexed bool) ([]rpc.User, error) {
	js, err := connectBroker(cmd)
	if err != nil {
		return nil, err
	}
	defer js.Close()

	ctx, cancel := requestContext(cmd)
	defer cancel()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	caller := rpc.NewClient(js, rpc.Config{
		Timeout:     timeout,
		Stream:      natsclient.RPCRequestsStream,
		Multiplexed: multiplexed,
	})
	defer caller.Close()

	return rpc.NewUserLookup(caller).GetUsers(ctx, ids)
}

var usersPutCmd = &cobra.Command{
	Use:   "put [user-id]",
	Short: "Create or replace a user record (admin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		u := rpc.User{ID: args[0]}
		u.Username, _ = flags.GetString("username")
		u.Email, _ = flags.GetString("email")
		u.FirstName, _ = flags.GetString("first-name")
		u.LastName, _ = flags.GetString("last-name")
		u.Role, _ = flags.GetString("role")

		ctx, cancel := requestContext(cmd)
		defer cancel()

		p := activeProfile(cmd)
		if err := client.NewUsersClient(p.UserdirURL, p.AccessToken).Put(ctx, u); err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}
		output.Success("User %s saved", u.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usersCmd)
	usersCmd.AddCommand(usersLookupCmd, usersPutCmd)

	usersLookupCmd.Flags().String("nats-url", "", "NATS server URL (default: profile nats_url)")
	usersLookupCmd.Flags().Bool("multiplexed", false, "share one reply queue across calls")
	usersLookupCmd.Flags().Bool("http", false, "query the user directory HTTP API instead of the broker")

	usersPutCmd.Flags().String("username", "", "username")
	usersPutCmd.Flags().String("email", "", "email address")
	usersPutCmd.Flags().String("first-name", "", "first name")
	usersPutCmd.Flags().String("last-name", "", "last name")
	usersPutCmd.Flags().String("role", "", "role")
	if err := usersPutCmd.MarkFlagRequired("username"); err != nil {
		panic(fmt.Sprintf("failed to mark username as required: %v", err))
	}
}
