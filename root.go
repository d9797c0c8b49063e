package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/immich-sync/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Persistent/command flags, bound in newRootCmd() and newSyncCmd(). Cobra
// needs concrete variables to bind to; resolveConfig folds these over an
// optional config file and the built-in defaults (spec §6, SPEC_FULL §10).
var (
	flagConfigPath   string
	flagSinkURL      string
	flagDB           string
	flagSourceAlbum  string
	flagSharedAlbums string
	flagEarlyExit    bool
	flagClientSecret string
	flagAuthToken    string
	flagConcurrency  int
	flagReadOnly     bool
	flagItems        int
	flagSinkAuth     string
	flagLogLevel     string
	flagLogFormat    string
	flagProgressAddr string
)

// sharedAlbumsAllSentinel is the Cobra NoOptDefVal for --shared-albums: the
// value used when the flag is passed with no argument ("all shared
// albums", spec §6).
const sharedAlbumsAllSentinel = "all"

// cliContextKey is the context key the resolved RunConfig/logger travel
// under, the way the teacher threads its own CLIContext (root.go).
type cliContextKey struct{}

type cliContext struct {
	Cfg    config.RunConfig
	Logger *slog.Logger
}

func cliContextFrom(ctx context.Context) *cliContext {
	cc, _ := ctx.Value(cliContextKey{}).(*cliContext)
	return cc
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "immich-sync",
		Short:         "One-way Google Photos to Immich sync tool",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))
			return nil
		},
	}

	defaults := config.Defaults()
	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "optional TOML config file supplying flag defaults")
	cmd.PersistentFlags().StringVar(&flagSinkURL, "sink-url", defaults.SinkURL, "base URL of the sink API (required)")
	cmd.PersistentFlags().StringVar(&flagDB, "db", defaults.DBPath, "local mapping DB path")
	cmd.PersistentFlags().StringVar(&flagSourceAlbum, "source-album-id", defaults.SourceAlbumID, "restrict scan to this one source album")
	cmd.PersistentFlags().StringVar(&flagSharedAlbums, "shared-albums", "", "scan shared albums: bare flag for all, or an integer for the first N")
	cmd.PersistentFlags().Lookup("shared-albums").NoOptDefVal = sharedAlbumsAllSentinel
	cmd.PersistentFlags().BoolVar(&flagEarlyExit, "early-exit", defaults.EarlyExit, "in shared-albums mode, stop on first album with no new items")
	cmd.PersistentFlags().StringVar(&flagClientSecret, "client-secret", defaults.ClientSecretPath, "source OAuth app credentials path")
	cmd.PersistentFlags().StringVar(&flagAuthToken, "auth-token", defaults.AuthTokenPath, "persisted source refresh token path")
	cmd.PersistentFlags().IntVar(&flagConcurrency, "download-concurrency", defaults.DownloadConcurrency, "CoalescingWorker capacity")
	cmd.PersistentFlags().BoolVar(&flagReadOnly, "read-only", defaults.ReadOnly, "plan only; never write")
	cmd.PersistentFlags().IntVar(&flagItems, "items", defaults.Items, "scan the first N items from the global library")
	cmd.PersistentFlags().StringVar(&flagSinkAuth, "sink-auth", defaults.SinkAuthPath, "file providing the sink API key as API_KEY=...")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", defaults.LogLevel, "debug, info, warn, or error")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", defaults.LogFormat, "text or json")
	cmd.PersistentFlags().StringVar(&flagProgressAddr, "progress-addr", defaults.ProgressAddr, "optional host:port to serve a live progress websocket on")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// resolveConfig folds an optional TOML file over the built-in defaults,
// then lets any flag the user actually passed on the command line win
// (spec §10: "flag > file > built-in default"). Cobra has already parsed
// argv into the package-level flag vars by the time PersistentPreRunE
// runs, so an explicitly-set flag is distinguished from its registered
// default via cmd.Flags().Changed, the same pattern the teacher's
// loadConfig uses for --drive.
func resolveConfig(cmd *cobra.Command) (*cliContext, error) {
	fileCfg, err := config.LoadFile(flagConfigPath, config.Defaults())
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	changed := cmd.Flags().Changed
	cfg := fileCfg
	if changed("sink-url") {
		cfg.SinkURL = flagSinkURL
	}
	if changed("db") {
		cfg.DBPath = flagDB
	}
	if changed("source-album-id") {
		cfg.SourceAlbumID = flagSourceAlbum
	}
	if changed("shared-albums") {
		cfg.SharedAlbums = true
		if flagSharedAlbums != sharedAlbumsAllSentinel {
			limit, parseErr := parsePositiveInt(flagSharedAlbums)
			if parseErr != nil {
				return nil, fmt.Errorf("--shared-albums: %w", parseErr)
			}
			cfg.SharedAlbumsLimit = limit
		}
	}
	if changed("early-exit") {
		cfg.EarlyExit = flagEarlyExit
	}
	if changed("client-secret") {
		cfg.ClientSecretPath = flagClientSecret
	}
	if changed("auth-token") {
		cfg.AuthTokenPath = flagAuthToken
	}
	if changed("download-concurrency") {
		cfg.DownloadConcurrency = flagConcurrency
	}
	if changed("read-only") {
		cfg.ReadOnly = flagReadOnly
	}
	if changed("items") {
		cfg.Items = flagItems
	}
	if changed("sink-auth") {
		cfg.SinkAuthPath = flagSinkAuth
	}
	if changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}
	if changed("progress-addr") {
		cfg.ProgressAddr = flagProgressAddr
	}

	return &cliContext{Cfg: cfg, Logger: buildLogger(cfg)}, nil
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil || n <= 0 {
		return 0, fmt.Errorf("expected a positive integer, got %q", s)
	}
	return n, nil
}

// buildLogger builds the run's logger per SPEC_FULL §10: text handler to
// stderr, or JSON when --log-format json, level from --log-level, the way
// the teacher's buildLogger resolves level but without its config-vs-flag
// layering (this tool has only one log-level source, the resolved RunConfig).
func buildLogger(cfg config.RunConfig) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
