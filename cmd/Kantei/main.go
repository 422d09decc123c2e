// Command kantei runs the Kantei chat backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/BTreeMap/Kantei/internal/config"
	"github.com/BTreeMap/Kantei/internal/logging"
)

// app carries what every subcommand needs once the root has initialised.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	logger *zap.Logger
}

func newApp() *app {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)
	return a
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kantei",
		Short: "Kantei identifies what is on a photographed screen through a chat dialogue",
		Long: `Kantei is a WhatsApp chat backend. Users send a photo of a TV or
streaming screen and Kantei works out the title together with them, or they
send a photo of an item and Kantei drafts a marketplace listing.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.init,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flags.String("state-dir", config.DefaultStateDir, "state directory for the database and lock file (env STATE_DIR)")
	flags.String("db-dsn", "", "database DSN; SQLite path or PostgreSQL URL (env DATABASE_DSN)")
	flags.String("llm-provider", config.ProviderGemini, "generative backend: gemini or openai (env LLM_PROVIDER)")
	flags.String("log-level", "info", "log level: debug, info, warn, error (env LOG_LEVEL)")
	flags.Bool("log-development", false, "human-readable console logs (env LOG_DEVELOPMENT)")
	bindFlags(a.v, flags, map[string]string{
		"state_dir":       "state-dir",
		"database.dsn":    "db-dsn",
		"llm.provider":    "llm-provider",
		"log.level":       "log-level",
		"log.development": "log-development",
	})

	root.AddCommand(newServeCmd(a), newSimulateCmd(a))
	return root
}

// bindFlags binds viper keys to the named flags.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

// init loads the dotenv file, the configuration and the logger.
func (a *app) init(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	logger.Debug("kantei: configuration loaded",
		zap.String("state_dir", cfg.StateDir),
		zap.String("transport", cfg.Transport),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("dedup_backend", cfg.Dedup.Backend),
		zap.Bool("database_dsn_set", cfg.Database.DSN != ""),
		zap.Bool("tmdb_token_set", cfg.TMDB.Token != ""),
		zap.Bool("sqs_queue_set", cfg.Recorder.SQSQueueURL != ""))
	return nil
}

func main() {
	if err := newApp().rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
