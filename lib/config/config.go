// Copyright 2026 The Chorus Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the Chorus bot configuration.
//
// Configuration comes from a single YAML file named by either the
// CHORUS_CONFIG environment variable or the --config flag. There is no
// discovery and no environment-variable overrides: what the file says
// is what runs, which matters when several instances of the same bot
// must agree on protocol timings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "3s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration for one bot instance.
type Config struct {
	// InstanceID is this process's protocol identity: a non-negative
	// integer unique across the deployment, fixed for the process
	// lifetime. There is no default — every instance must be
	// deliberately assigned one.
	InstanceID int `yaml:"instance_id"`

	// CommandPrefix introduces user commands (e.g. "!").
	CommandPrefix string `yaml:"command_prefix"`

	Chat         ChatConfig         `yaml:"chat"`
	Paths        PathsConfig        `yaml:"paths"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Lobbies      LobbiesConfig      `yaml:"lobbies"`
	Replays      ReplaysConfig      `yaml:"replays"`
	Roles        RolesConfig        `yaml:"roles"`
}

// ChatConfig locates the chat platform and the channels the bot uses.
type ChatConfig struct {
	// BaseURL is the chat platform's REST API base.
	BaseURL string `yaml:"base_url"`

	// TokenFile is the path of a file holding the bot token.
	TokenFile string `yaml:"token_file"`

	// GuildID is the community guild the bot serves.
	GuildID int64 `yaml:"guild_id"`

	// ComChannelID is the shared broadcast channel instances
	// coordinate through. All instances must point at the same one.
	ComChannelID int64 `yaml:"com_channel_id"`

	// PubChannelID receives public-realm lobby postings.
	PubChannelID int64 `yaml:"pub_channel_id"`

	// PollInterval is how often the inbound message poller asks the
	// platform for new channel messages.
	PollInterval Duration `yaml:"poll_interval"`
}

// PathsConfig configures on-disk locations.
type PathsConfig struct {
	// Root is the base directory for Chorus data.
	Root string `yaml:"root"`

	// Database is the moderation store replicated by SEND_DB.
	Database string `yaml:"database"`

	// DatabaseArchive is where a replaced database file is moved
	// aside before the master's copy overwrites it.
	DatabaseArchive string `yaml:"database_archive"`

	// Logs is the directory for per-run log files.
	Logs string `yaml:"logs"`
}

// CoordinationConfig carries the protocol timings. All instances of a
// deployment should run identical values.
type CoordinationConfig struct {
	// PromoteTimeout is how long a booting instance waits for a
	// master's CONNECT_ACK before promoting itself.
	PromoteTimeout Duration `yaml:"promote_timeout"`

	// EnsureWindow is the default ensure-display confirmation window.
	EnsureWindow Duration `yaml:"ensure_window"`

	// HubMaxAge bounds how long the message hub remembers envelopes.
	HubMaxAge Duration `yaml:"hub_max_age"`
}

// LobbiesConfig configures the externally polled lobby listings.
type LobbiesConfig struct {
	// BnetAPI is the community game-list endpoint.
	BnetAPI string `yaml:"bnet_api"`

	// EntAPI is the hosted-league game-list endpoint.
	EntAPI string `yaml:"ent_api"`

	// RefreshInterval is the periodic listing refresh cadence.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// FetchTimeout bounds a single game-list fetch; a stalled API must
	// fail the refresh, not hang it. Keep it under RefreshInterval.
	FetchTimeout Duration `yaml:"fetch_timeout"`

	// MapKeywords filters listings: a lobby is tracked when its map
	// name contains every keyword.
	MapKeywords []string `yaml:"map_keywords"`

	// RetriesBeforeWarning is how many consecutive failed refreshes
	// of one API are tolerated before the bot surfaces a warning
	// presence.
	RetriesBeforeWarning int `yaml:"retries_before_warning"`
}

// ReplaysConfig configures replay uploads.
type ReplaysConfig struct {
	// UploadURL is the stats-site upload endpoint.
	UploadURL string `yaml:"upload_url"`

	// Window is the ensure-display window for replay result messages,
	// long because the upload itself can take most of a minute.
	Window Duration `yaml:"window"`
}

// RolesConfig names the guild role IDs the permission tiers map to.
type RolesConfig struct {
	Member   int64 `yaml:"member"`
	Host     int64 `yaml:"host"`
	Officer  int64 `yaml:"officer"`
	RegionEU int64 `yaml:"region_eu"`
	RegionKR int64 `yaml:"region_kr"`
	RegionNA int64 `yaml:"region_na"`
}

// Default returns the configuration base. Protocol timings carry the
// deployment's long-standing values; identity and endpoints have no
// sensible defaults and must come from the file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	root := filepath.Join(homeDir, ".local", "share", "chorus")

	return &Config{
		InstanceID:    -1,
		CommandPrefix: "!",
		Chat: ChatConfig{
			PollInterval: Duration(time.Second),
		},
		Paths: PathsConfig{
			Root:            root,
			Database:        filepath.Join(root, "warn.db"),
			DatabaseArchive: filepath.Join(root, "archive", "warn.db"),
			Logs:            filepath.Join(root, "logs"),
		},
		Coordination: CoordinationConfig{
			PromoteTimeout: Duration(3 * time.Second),
			EnsureWindow:   Duration(2 * time.Second),
			HubMaxAge:      Duration(5 * time.Minute),
		},
		Lobbies: LobbiesConfig{
			BnetAPI:              "https://api.wc3stats.com/gamelist",
			EntAPI:               "https://host.entgaming.net/allgames",
			RefreshInterval:      Duration(5 * time.Second),
			FetchTimeout:         Duration(4 * time.Second),
			MapKeywords:          []string{"Impossible", "Bosses"},
			RetriesBeforeWarning: 10,
		},
		Replays: ReplaysConfig{
			UploadURL: "https://api.wc3stats.com/upload",
			Window:    Duration(60 * time.Second),
		},
	}
}

// Load reads the file named by CHORUS_CONFIG. Fails if the variable is
// unset — there is no fallback path.
func Load() (*Config, error) {
	path := os.Getenv("CHORUS_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("CHORUS_CONFIG environment variable not set; " +
			"set it to the path of your chorus.yaml, or pass --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit path, applies ${VAR}
// expansion to paths, and validates.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// expandPaths expands ${VAR} and ${VAR:-default} in path fields. Only
// CHORUS_ROOT and HOME are provided; anything else resolves from the
// environment.
func (c *Config) expandPaths() {
	vars := map[string]string{
		"CHORUS_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["CHORUS_ROOT"] = c.Paths.Root

	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.DatabaseArchive = expandVars(c.Paths.DatabaseArchive, vars)
	c.Paths.Logs = expandVars(c.Paths.Logs, vars)
	c.Chat.TokenFile = expandVars(c.Chat.TokenFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name := parts[1]
		fallback := ""
		if len(parts) >= 3 {
			fallback = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// Validate checks the configuration for errors, reporting all of them
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.InstanceID < 0 {
		errs = append(errs, fmt.Errorf("instance_id is required and must be non-negative"))
	}
	if c.CommandPrefix == "" {
		errs = append(errs, fmt.Errorf("command_prefix is required"))
	}
	if c.Chat.BaseURL == "" {
		errs = append(errs, fmt.Errorf("chat.base_url is required"))
	}
	if c.Chat.ComChannelID == 0 {
		errs = append(errs, fmt.Errorf("chat.com_channel_id is required"))
	}
	if c.Paths.Database == "" {
		errs = append(errs, fmt.Errorf("paths.database is required"))
	}
	if c.Coordination.PromoteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("coordination.promote_timeout must be positive"))
	}
	if c.Coordination.EnsureWindow <= 0 {
		errs = append(errs, fmt.Errorf("coordination.ensure_window must be positive"))
	}
	if c.Coordination.HubMaxAge.Std() < c.Coordination.EnsureWindow.Std() {
		errs = append(errs, fmt.Errorf("coordination.hub_max_age must cover the ensure window"))
	}
	if c.Lobbies.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("lobbies.refresh_interval must be positive"))
	}
	if c.Lobbies.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("lobbies.fetch_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the configured directories.
func (c *Config) EnsurePaths() error {
	for _, dir := range []string{c.Paths.Root, filepath.Dir(c.Paths.Database), filepath.Dir(c.Paths.DatabaseArchive), c.Paths.Logs} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", dir, err)
		}
	}
	return nil
}

// Token reads the bot token from TokenFile, trimming a trailing
// newline.
func (c *ChatConfig) Token() (string, error) {
	if c.TokenFile == "" {
		return "", fmt.Errorf("config: chat.token_file not set")
	}
	data, err := os.ReadFile(c.TokenFile)
	if err != nil {
		return "", fmt.Errorf("config: reading token: %w", err)
	}
	token := string(data)
	for len(token) > 0 && (token[len(token)-1] == '\n' || token[len(token)-1] == '\r') {
		token = token[:len(token)-1]
	}
	if token == "" {
		return "", fmt.Errorf("config: token file %s is empty", c.TokenFile)
	}
	return token, nil
}
