package commands

import (
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/roam/roam"
	"github.com/TheusHen/roam/roam/config"
	"github.com/TheusHen/roam/roam/logging"
)

const statusInterval = time.Minute

func connectCmd() *cobra.Command {
	var (
		networkFile string
		optionsFile string
		name        string
		subnet      string
		listen      string
		bootstrap   []string
	)
	cmd := &cobra.Command{
		Use:   "connect [key]",
		Short: "Join a network and keep the mesh up until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			netCfg, err := loadNetwork(args, networkFile, name, subnet)
			if err != nil {
				return err
			}
			opts, err := config.LoadOptions(optionsFile)
			if err != nil {
				return err
			}
			if listen != "" {
				opts.Listen = listen
			}
			opts.Bootstrap = append(opts.Bootstrap, bootstrap...)

			logger, closer, err := logging.Setup(opts.Log)
			if err != nil {
				return err
			}
			defer closer.Close()

			node, err := roam.NewNode(netCfg,
				roam.WithOptions(opts),
				roam.WithLogger(logrus.NewEntry(logger)),
			)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := node.Start(ctx); err != nil {
				_ = node.Close()
				return err
			}

			t := time.NewTicker(statusInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return node.Close()
				case <-t.C:
					logger.WithFields(logrus.Fields{
						"sessions": len(node.Sessions()),
						"known":    len(node.Peers()),
					}).Info("Mesh status")
				}
			}
		},
	}
	cmd.Flags().StringVarP(&networkFile, "config", "c", "", "network config file written by 'roam new'")
	cmd.Flags().StringVar(&optionsFile, "options", "", "runtime options file (default roam.yaml or <home>/roam.yaml)")
	cmd.Flags().StringVarP(&name, "name", "n", "roam", "network name when joining by key")
	cmd.Flags().StringVar(&subnet, "subnet", "", "tunnel subnet when joining by key")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "UDP listen address")
	cmd.Flags().StringSliceVarP(&bootstrap, "bootstrap", "b", nil, "extra host:port peers to dial")
	return cmd
}

func loadNetwork(args []string, file, name, subnet string) (config.NetworkConfig, error) {
	switch {
	case len(args) == 1 && file != "":
		return config.NetworkConfig{}, errors.New("give either a key or --config, not both")
	case file != "":
		return config.ReadFile(file)
	case len(args) == 1:
		prefix, err := config.ParseSubnet(subnet)
		if err != nil {
			return config.NetworkConfig{}, err
		}
		c := config.NetworkConfig{
			Name:        name,
			Key:         args[0],
			NetworkAddr: prefix.Addr(),
			CIDR:        uint8(prefix.Bits()),
		}
		return c, c.Validate()
	default:
		return config.NetworkConfig{}, errors.New("a network key or --config is required")
	}
}
