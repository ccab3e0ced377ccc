package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var (
	config  = "./config/relayer.yaml"
	rootCmd = &cobra.Command{
		Use:   "mintrelay",
		Short: "mintrelay CLI",
		Long: `mintrelay CLI to run and interact with the gasless mint relayer.
Each sub command can be use for a single service

Such as "mintrelay run" or "mintrelay status" and so on
`,
	}
)

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&config, "config", "c", "config/relayer.yaml", "Path to config file")
}
