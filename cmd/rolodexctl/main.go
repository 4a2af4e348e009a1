package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/rolodex/internal/config"
	"github.com/memohai/rolodex/internal/logger"
	"github.com/memohai/rolodex/internal/version"
)

type globalOptions struct {
	configPath string
	apiBaseURL string
	token      string
	username   string
	password   string
	timeout    time.Duration
}

var opts globalOptions

var rootCmd = &cobra.Command{
	Use:           "rolodexctl",
	Short:         "Operate a rolodex contact sync server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger.Init(cfg.Log.Level, cfg.Log.Format)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rolodexctl %s\n", version.GetInfo())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "path to config.toml")
	flags.StringVar(&opts.apiBaseURL, "api", os.Getenv("ROLODEX_API"), "API base URL (default from server.addr)")
	flags.StringVar(&opts.token, "token", os.Getenv("ROLODEX_TOKEN"), "JWT; logs in with --user/--password when empty")
	flags.StringVar(&opts.username, "user", "", "operator username (default auth.operator_user)")
	flags.StringVar(&opts.password, "password", os.Getenv("ROLODEX_PASSWORD"), "operator password")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "HTTP timeout")

	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
