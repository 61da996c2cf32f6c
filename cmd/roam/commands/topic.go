package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/roam/roam/identity"
	"github.com/TheusHen/roam/roam/rendezvous"
)

func topicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topic <key>",
		Short: "Print the rendezvous topic of a network key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := identity.DecodeNetworkSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rendezvous.TopicFor(secret.PublicKey))
			return nil
		},
	}
}
