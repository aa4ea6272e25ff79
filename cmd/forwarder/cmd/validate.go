package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Log-Tools/secops-forwarder/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate the forwarder configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfigFromFile(configPath)
		if err != nil {
			return err
		}

		containers := cfg.Containers()
		fmt.Printf("Configuration OK: %d tenant(s), %d container(s)\n",
			len(cfg.Azure.Tenants), len(containers))
		for _, ref := range containers {
			fmt.Printf("  %s/%s -> log_type %s (prefixes: %v)\n",
				ref.StorageAccount, ref.Container.Name, ref.Container.LogType, ref.Container.Prefixes)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
