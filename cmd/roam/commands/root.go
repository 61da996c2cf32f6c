package commands

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var home string

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "roam",
		Short:         "Direct peer-to-peer mesh VPN",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".roam")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.roam)")

	root.AddCommand(newCmd(), connectCmd(), topicCmd())
	return root
}

func networkPath(name string) string {
	return filepath.Join(home, "networks", name+".json")
}
