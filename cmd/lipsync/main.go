// Package main is the entry point for the lipsync service and CLI.
// It serves word timing and viseme timelines for avatar lip-sync and offers
// offline commands for the same operations.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/lipsync/internal/config"
	"github.com/normanking/lipsync/internal/logging"
	"github.com/normanking/lipsync/internal/server"
	"github.com/normanking/lipsync/internal/viseme"
)

var (
	version = "0.1.0"
	cfgPath string
	verbose bool
	cfgMgr  *config.Manager
	log     *logging.Logger
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lipsync",
		Short: "Word timing and viseme timelines for talking avatars",
		Long: `lipsync derives word timing from synthesized speech and segments
Czech and Slovak text into viseme timelines.

Start the service:     lipsync serve
Segment text:          lipsync visemes "Dobrý den" --lang cs
Estimate word timing:  lipsync approx --pcm speech.raw --text "Dobrý den"
Wrap PCM in WAV:       lipsync wav encode --in speech.raw --out speech.wav`,
		PersistentPreRunE: initApp,
		SilenceUsage:      true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.lipsync/config.yaml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lipsync v%s\n", version)
		},
	})
	root.AddCommand(serveCmd())
	root.AddCommand(visemesCmd())
	root.AddCommand(approxCmd())
	root.AddCommand(wavCmd())

	return root
}

func initApp(cmd *cobra.Command, args []string) error {
	m, err := config.NewManager(cfgPath)
	if err != nil {
		return err
	}
	cfgMgr = m
	cfg := m.Config()

	lc := cfg.Logging.Logger()
	if verbose {
		lc.Level = logging.LevelDebug
	}
	// Offline commands print JSON on stdout; keep their logs quiet.
	if cmd.Name() != "serve" && !verbose {
		lc.Level = logging.LevelWarn
	}
	log, err = logging.New(lc)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}

	server.Version = version
	log.Debug("main", "Configuration loaded", map[string]interface{}{
		"file": m.ConfigFile(),
	})
	return nil
}

// buildRegistry returns the built-in tables plus any configured YAML tables.
func buildRegistry(cfg *config.Config, logger zerolog.Logger) (*viseme.Registry, error) {
	reg := viseme.NewRegistry(cfg.Viseme.DefaultLanguage, builtinTables(cfg)...)

	for _, path := range cfg.Viseme.Tables {
		t, err := viseme.LoadTableFile(path)
		if err != nil {
			return nil, err
		}
		reg.Register(t)
		logger.Info().Str("language", t.Language).Str("path", path).Msg("Viseme table loaded")
	}

	if _, ok := reg.Lookup(cfg.Viseme.DefaultLanguage); !ok {
		logger.Warn().Str("language", cfg.Viseme.DefaultLanguage).Msg("Default viseme language has no table, falling back to Czech")
	}
	return reg, nil
}

// builtinTables returns the Czech and Slovak tables with the configured
// repeat damping.
func builtinTables(cfg *config.Config) []*viseme.Table {
	cs, sk := viseme.Czech(), viseme.Slovak()
	if d := cfg.Viseme.RepeatDamping; d > 0 {
		cs, sk = cs.WithRepeatDamping(d), sk.WithRepeatDamping(d)
	}
	return []*viseme.Table{cs, sk}
}

// reloadTables re-registers the built-in tables and the YAML tables of cfg.
// A table file that fails to load is logged and skipped.
func reloadTables(reg *viseme.Registry, cfg *config.Config, logger zerolog.Logger) {
	for _, t := range builtinTables(cfg) {
		reg.Register(t)
	}
	for _, path := range cfg.Viseme.Tables {
		t, err := viseme.LoadTableFile(path)
		if err != nil {
			logger.Error().Err(err).Str("path", path).Msg("Viseme table reload failed")
			continue
		}
		reg.Register(t)
	}
}
