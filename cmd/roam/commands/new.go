package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TheusHen/roam/roam/config"
)

func newCmd() *cobra.Command {
	var name, subnet, out string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new network and save its config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.NewNetwork(name, subnet)
			if err != nil {
				return err
			}
			if out == "" {
				out = networkPath(c.Name)
			}
			if err := config.WriteFile(out, c); err != nil {
				return err
			}
			access, err := c.AccessOnly()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Network %q created (%s).\n", c.Name, c.Prefix())
			fmt.Fprintf(w, "Config:     %s\n", out)
			fmt.Fprintf(w, "Access key: %s\n", access.Key)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "network name")
	cmd.Flags().StringVar(&subnet, "subnet", "", "tunnel subnet (default 192.168.251.0/24)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "config file to write (default <home>/networks/<name>.json)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
