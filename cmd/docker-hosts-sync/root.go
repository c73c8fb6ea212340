package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/auto-dns/docker-hosts-sync/internal/app"
	"github.com/auto-dns/docker-hosts-sync/internal/config"
	"github.com/auto-dns/docker-hosts-sync/internal/logger"
)

type contextKey string

const configKey = contextKey("config")

func newRootCmd(v *viper.Viper, newApp func(*config.Config) (application, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "docker-hosts-sync",
		Short:         "Keep a hosts file in sync with running Docker containers",
		Long:          "Watches Docker container events and maintains a hosts file mapping <container>.<domain> to container addresses.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			if err := config.InitConfig(v, configFile); err != nil {
				return err
			}

			// --debug and --verbose only apply when no explicit level was given.
			if !cmd.Flags().Changed("log-level") {
				if debug, _ := cmd.Flags().GetBool("debug"); debug {
					v.Set("log.level", "DEBUG")
				} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
					v.Set("log.level", "INFO")
				}
			}

			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), configKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cmd.Context().Value(configKey).(*config.Config)

			// Create a context with cancellation for graceful shutdown.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := newApp(cfg)
			if err != nil {
				return fmt.Errorf("failed to create app: %w", err)
			}
			defer application.Close()

			// Run the application. When context is canceled, Run returns.
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("app run error: %w", err)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default is config.yaml)")
	flags.StringP("domain", "d", "", "domain appended to container names (default \"docker\")")
	flags.StringP("hostsfile", "H", "", "hosts file to maintain (default \"./hosts\")")
	flags.StringP("update-command", "c", "", "command to run after the hosts file changed")
	flags.String("log-level", "", "set log level (e.g. INFO, DEBUG, WARN)")
	flags.BoolP("verbose", "v", false, "log at INFO level")
	flags.Bool("debug", false, "log at DEBUG level")

	_ = v.BindPFlag("app.domain", flags.Lookup("domain"))
	_ = v.BindPFlag("app.hosts_file", flags.Lookup("hostsfile"))
	_ = v.BindPFlag("app.update_command", flags.Lookup("update-command"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	return cmd
}

func runApp(cfg *config.Config) (application, error) {
	logInstance := logger.SetupLogger(&cfg.Logging)
	return app.New(cfg, logInstance)
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd(viper.New(), runApp).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Execution error: %v\n", err)
		os.Exit(1)
	}
}
