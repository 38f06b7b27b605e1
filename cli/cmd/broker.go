package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	natsclient "github.com/bugtracker/history-stack/common/messaging/nats"
)

// connectBroker opens a JetStream connection to the profile's NATS server, or --nats-url when given.
func connectBroker(cmd *cobra.Command) (*natsclient.JetStreamClient, error) {
	url, _ := cmd.Flags().GetString("nats-url")
	if url == "" {
		url = activeProfile(cmd).NATSURL
	}
	natsCfg := natsclient.DefaultConfig()
	natsCfg.Name = "bthist"
	natsCfg.URL = url
	natsCfg.MaxReconnects = 0

	js, err := natsclient.NewJetStreamClient(natsCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}
	return js, nil
}
