// Package config handles TOML configuration loading with environment variable substitution.
package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"

	"github.com/vmunix/arrgo-renamer/internal/model"
)

// defaultProviderOrder is spec.md §6.2's "default [anidb, anilist, tvdb, tmdb]".
var defaultProviderOrder = []string{"anidb", "anilist", "tvdb", "tmdb"}

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig          `toml:"server"`
	Store     StoreConfig           `toml:"store"`
	Logging   LoggingConfig         `toml:"logging"`
	Libraries []LibraryConfig       `toml:"libraries"`
	Users     map[string]UserConfig `toml:"users"`
}

type ServerConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	LogLevel string `toml:"log_level"`
}

// StoreConfig points at the data directory housing the KV rows listed in
// spec.md §6.1 (enrich-store.json, parsed-cache.json, scans.json, ...).
type StoreConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig names the append-only log file spec.md §6.1 calls logs.txt.
type LoggingConfig struct {
	Path string `toml:"path"`
}

// LibraryConfig is one configured media root a scan walks (spec.md §4.7,
// scan.Library). Username selects which UserConfig supplies provider
// credentials and rename preferences for files under this root.
type LibraryConfig struct {
	ID       string `toml:"id"`
	Path     string `toml:"path"`
	Username string `toml:"username"`
	Watch    bool   `toml:"watch"` // per-library opt-in; a watcher also needs the user's enable_folder_watch
}

// UserConfig is spec.md §6.2's "Provider-user configuration (per-user or
// global)" block.
type UserConfig struct {
	TMDBAPIKey         string `toml:"tmdb_api_key"`
	AniListAPIKey      string `toml:"anilist_api_key"`
	TVDBV4APIKey       string `toml:"tvdb_v4_api_key"`
	TVDBV4UserPIN      string `toml:"tvdb_v4_user_pin"`
	AniDBUsername      string `toml:"anidb_username"`
	AniDBPassword      string `toml:"anidb_password"`
	AniDBClientName    string `toml:"anidb_client_name"`
	AniDBClientVersion string `toml:"anidb_client_version"`

	// MetadataProviderOrder holds raw provider IDs as configured; use
	// ProviderOrder to get the validated/defaulted model.ProviderID slice.
	MetadataProviderOrder []string `toml:"metadata_provider_order"`
	DefaultMetaProvider   string   `toml:"default_meta_provider"`

	ScanInputPath  string `toml:"scan_input_path"`
	ScanOutputPath string `toml:"scan_output_path"`
	RenameTemplate string `toml:"rename_template"`
	ClientOS       string `toml:"client_os"`

	EnableFolderWatch          bool  `toml:"enable_folder_watch"`
	DeleteHardlinksOnUnapprove *bool `toml:"delete_hardlinks_on_unapprove"`

	OutputFolders []OutputFolderConfig `toml:"output_folders"`
}

// OutputFolderConfig is one entry of spec.md §6.2's "output_folders (array
// of { path } for the 'Apply to...' picker)", extended with the bucket key
// and artwork provider the approved-series image worker (C14) needs.
type OutputFolderConfig struct {
	Path            string `toml:"path"`
	Key             string `toml:"key"`
	ArtworkProvider string `toml:"artwork_provider"` // "anilist" (default), "tmdb", or "anidb"
}

// ProviderOrder resolves MetadataProviderOrder (falling back to
// defaultProviderOrder when unset) into validated model.ProviderID values,
// dropping any entry that isn't a recognized provider.
func (u UserConfig) ProviderOrder() []model.ProviderID {
	raw := u.MetadataProviderOrder
	if len(raw) == 0 {
		raw = defaultProviderOrder
	}
	order := make([]model.ProviderID, 0, len(raw))
	for _, id := range raw {
		pid := model.ProviderID(id)
		if pid.Valid() {
			order = append(order, pid)
		}
	}
	return order
}

// ShouldDeleteHardlinksOnUnapprove returns whether Unapprove removes the
// published hardlink, defaulting to true per spec.md §6.2.
func (u UserConfig) ShouldDeleteHardlinksOnUnapprove() bool {
	if u.DeleteHardlinksOnUnapprove == nil {
		return true
	}
	return *u.DeleteHardlinksOnUnapprove
}

// Load reads, parses, and validates the configuration file.
func Load(path string) (*Config, error) {
	cfg, missing, err := load(path)
	if err != nil {
		return nil, err
	}

	configErr := &ConfigError{Path: path, Missing: missing}
	configErr.Errors = cfg.Validate()

	if configErr.HasErrors() {
		return nil, configErr
	}

	return cfg, nil
}

// LoadWithoutValidation reads and parses the config without validation.
// Useful for init commands or debugging.
func LoadWithoutValidation(path string) (*Config, error) {
	cfg, _, err := load(path)
	return cfg, err
}

// load is the internal loader that returns config, missing vars, and parse error.
func load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}

	content, missing := substituteEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(content, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8484
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data"
	}
	if cfg.Logging.Path == "" {
		cfg.Logging.Path = "./data/logs.txt"
	}

	return &cfg, missing, nil
}

// substituteEnvVars replaces ${VAR}, ${VAR:-default}, ${VAR:?error} patterns.
// Returns the substituted content and a list of missing/error variables.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?:(:[-?])([^}]*))?\}`)

func substituteEnvVars(content string) (string, []string) {
	var missing []string

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		varName := parts[1]
		modifier := parts[2]
		modValue := parts[3]

		value, exists := os.LookupEnv(varName)

		switch modifier {
		case ":-": // Default value
			if !exists || value == "" {
				return modValue
			}
			return value
		case ":?": // Required with error
			if !exists || value == "" {
				missing = append(missing, varName+": "+modValue)
				return match
			}
			return value
		default: // Simple substitution
			if exists {
				return value
			}
			missing = append(missing, varName)
			return match
		}
	})

	return result, missing
}
