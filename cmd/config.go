package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"care-migrate/internal/config"
)

// configCmd represents the config command group
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate and validate configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print a commented sample configuration",
	Long: `Print a complete configuration template with every section commented.
Redirect the output to a file and adjust it for your environment.

Examples:
  care-migrate config init > config.yaml
  care-migrate config init > ~/.care-migrate.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(config.SampleConfig())
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Parse and validate a configuration file, including the database,
migration, backup, serve, logging, and display sections. When a backup
section is present, its storage location, encryption key source, and
retention windows are checked too.

Examples:
  care-migrate config validate --config config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadAppConfig(cmd)
	if err != nil {
		return err
	}
	disp := newDisplayService(cfg)

	source := cfgFile
	if source == "" {
		source = viper.ConfigFileUsed()
	}
	if source == "" {
		disp.Warning("No configuration file found; only the built-in defaults were validated")
		return nil
	}
	disp.Success(fmt.Sprintf("Configuration file %s is valid", source))

	if cfg.Backup.Schema != "" {
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		result := config.NewSystemInitializer(&cfg.Backup, logger).Initialize()
		renderInitializationResult(disp, result)
		if !result.Success {
			return fmt.Errorf("backup configuration is not usable")
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}
