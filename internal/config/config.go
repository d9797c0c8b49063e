// Package config resolves the flat RunConfig the CLI needs (spec §6),
// with flag values taking precedence over an optional TOML defaults
// file, which in turn takes precedence over the built-in defaults below.
package config

// RunConfig is the flat configuration surface named in spec.md §6. Every
// field maps one-to-one to a CLI flag; there is no profile/drive layering
// the way the teacher's multi-account config has, since this tool syncs
// exactly one source account to one sink.
type RunConfig struct {
	SinkURL             string `toml:"sink_url"`
	DBPath              string `toml:"db"`
	SourceAlbumID       string `toml:"source_album_id"`
	SharedAlbums        bool   `toml:"shared_albums"`
	SharedAlbumsLimit   int    `toml:"shared_albums_limit"` // 0 means "all" when SharedAlbums is set
	EarlyExit           bool   `toml:"early_exit"`
	ClientSecretPath    string `toml:"client_secret"`
	AuthTokenPath       string `toml:"auth_token"`
	DownloadConcurrency int    `toml:"download_concurrency"`
	ReadOnly            bool   `toml:"read_only"`
	Items               int    `toml:"items"` // 0 means "unset"
	SinkAuthPath        string `toml:"sink_auth"`
	LogLevel            string `toml:"log_level"`
	LogFormat           string `toml:"log_format"`
	ProgressAddr        string `toml:"progress_addr"`
}

// Defaults returns the built-in defaults from spec.md §6's flag table.
func Defaults() RunConfig {
	return RunConfig{
		DBPath:              "sqlite.db",
		ClientSecretPath:    "client-secret.json",
		AuthTokenPath:       "auth_token.json",
		DownloadConcurrency: 10,
		SinkAuthPath:        ".env",
		LogLevel:            "info",
		LogFormat:           "text",
	}
}
