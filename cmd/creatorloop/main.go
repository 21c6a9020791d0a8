package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fentz26/creatorloop/internal/config"
	"github.com/fentz26/creatorloop/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "creatorloop",
	Short: "creatorloop - autonomous decision loop for creator stories",
	Long: `creatorloop plans, executes, and closes growth sprints for creator stories.
The daemon serves the HTTP API and runs scheduled autorun cycles; the other
commands talk to a running daemon.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var (
	apiAddr    string
	configPath string
	verbose    bool

	// cfg is loaded once per invocation in setup.
	cfg *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "API server address (default http://<listen>)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.creatorloop/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(storiesCmd)
	rootCmd.AddCommand(signalsCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(recordsCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	loaded, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	cfg = loaded

	logger, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Verbose: verbose,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.SetGlobal(logger)

	if apiAddr == "" {
		apiAddr = "http://" + cfg.Listen
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
