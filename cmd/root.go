package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"care-migrate/internal/config"
	"care-migrate/internal/display"
	"care-migrate/internal/logging"
)

var cfgFile string

// CLI flag variables shared by every subcommand
var (
	// Output verbosity flags
	verbose bool
	quiet   bool
	logFile string

	// Display flags
	noColor       bool
	theme         string
	outputFormat  string
	noIcons       bool
	noProgress    bool
	noInteractive bool
	maxWidth      int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "care-migrate",
	Short: "Migrate care records from a legacy database into per-service databases",
	Long: `care-migrate moves resident care records out of a legacy shared MySQL
database into dedicated per-service databases, and operates the backup
machinery that protects the records while they move.

Migrations run in dependency-ordered phases with per-table column
mappings, validation rules, and field-level encryption for PII columns.
Backups support full, incremental, and differential modes with
compression, encryption, off-site storage providers, retention sweeps,
and restorability verification.

Examples:
  # Review the migration plan without touching any database
  care-migrate migrate plan --config config.yaml

  # Run the migration with a pre-migration backup and confirmation
  care-migrate migrate run --config config.yaml

  # Create a full backup of the legacy schema
  care-migrate backup create --config config.yaml

  # List restore points and restore the newest full backup
  care-migrate restore list --config config.yaml
  care-migrate restore run --config config.yaml

  # Run scheduled backups and retention sweeps with a metrics endpoint
  care-migrate serve --config config.yaml

  # Generate a commented sample configuration
  care-migrate config init > config.yaml`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Configuration file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.care-migrate.yaml)")

	// Output verbosity flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file instead of stderr")

	// Display flags
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", "dark", "color theme (dark, light, plain, none)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&noIcons, "no-icons", false, "disable Unicode icons")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "disable progress indicators")
	rootCmd.PersistentFlags().BoolVar(&noInteractive, "no-interactive", false, "disable interactive prompts")
	rootCmd.PersistentFlags().IntVar(&maxWidth, "max-width", 120, "maximum table width (40-300)")

	// Bind flags to viper
	viper.BindPFlag("display.verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("display.quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("logging.file", rootCmd.PersistentFlags().Lookup("log-file"))
	viper.BindPFlag("display.theme", rootCmd.PersistentFlags().Lookup("theme"))
	viper.BindPFlag("display.output_format", rootCmd.PersistentFlags().Lookup("format"))
	viper.BindPFlag("display.max_width", rootCmd.PersistentFlags().Lookup("max-width"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".care-migrate" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".care-migrate")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("CARE_MIGRATE")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// loadAppConfig resolves the effective configuration for a command run.
// Precedence from lowest to highest: built-in defaults, config file,
// CARE_MIGRATE_* environment variables, command line flags.
func loadAppConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)

	switch {
	case cfgFile != "":
		cfg, err = config.Load(cfgFile)
	case viper.ConfigFileUsed() != "":
		cfg, err = config.Load(viper.ConfigFileUsed())
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}

	applyGlobalFlags(cmd, cfg)

	if err := cfg.Display.Validate(); err != nil {
		return nil, fmt.Errorf("display configuration: %w", err)
	}
	return cfg, nil
}

// applyGlobalFlags overlays persistent flag values onto the loaded
// configuration. Only flags the user actually set override the file.
func applyGlobalFlags(cmd *cobra.Command, cfg *config.AppConfig) {
	flags := cmd.Flags()

	if flags.Changed("verbose") {
		cfg.Display.Verbose = verbose
	}
	if flags.Changed("quiet") {
		cfg.Display.Quiet = quiet
	}
	// Quiet wins when both are requested.
	if cfg.Display.Quiet {
		cfg.Display.Verbose = false
	}
	if flags.Changed("log-file") {
		cfg.Logging.File = logFile
	}

	if flags.Changed("no-color") {
		cfg.Display.ColorEnabled = !noColor
	}
	if flags.Changed("theme") {
		cfg.Display.Theme = theme
	}
	if flags.Changed("format") {
		cfg.Display.OutputFormat = outputFormat
	}
	if flags.Changed("no-icons") {
		cfg.Display.UseIcons = !noIcons
	}
	if flags.Changed("no-progress") {
		cfg.Display.ShowProgress = !noProgress
	}
	if flags.Changed("no-interactive") {
		cfg.Display.Interactive = !noInteractive
	}
	if flags.Changed("max-width") {
		cfg.Display.MaxWidth = maxWidth
	}
}

// newDisplayService builds the display service for command output.
func newDisplayService(cfg *config.AppConfig) *display.Service {
	return display.NewService(&cfg.Display)
}

// newLogger builds the structured logger from the logging section,
// honoring the verbosity flags.
func newLogger(cfg *config.AppConfig) (*logging.Logger, error) {
	level := cfg.Logging.Level
	if cfg.Display.Quiet {
		level = logging.LogLevelQuiet
	} else if cfg.Display.Verbose {
		level = logging.LogLevelVerbose
	}

	return logging.NewLogger(logging.Config{
		Level:      level,
		Format:     cfg.Logging.Format,
		ShowCaller: cfg.Logging.ShowCaller,
		LogFile:    cfg.Logging.File,
	})
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  "Print the version information for care-migrate",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("care-migrate version %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
			fmt.Printf("Commit: %s\n", gitCommit)
			fmt.Printf("Go version: %s\n", goVersion)
		},
	}
}

func init() {
	// Add subcommands
	rootCmd.AddCommand(createVersionCommand())
}
