package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mintrelay/mintrelay/relayer"
)

var (
	runRelayerCmd = &cobra.Command{
		Use:   "run",
		Short: "Run relayer",
		Long: `Initialize and run the gasless mint relayer.

Use --config=path-to-your-config-file. default is=./config/relayer.yaml `,
		Run: func(cmd *cobra.Command, args []string) {
			relayer.RunWithConfig(config)
		},
	}
)

func init() {
	runRelayerCmd.Flags().StringVar(&config, "config", "./config/relayer.yaml", "path to relayer config file")
	rootCmd.AddCommand(runRelayerCmd)
}
