package shared

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// DefaultSettleDelay is the wait after the detail phase drains before merging.
const DefaultSettleDelay = 500 * time.Millisecond

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	LHS      MediaServerConfig `toml:"lhs"`
	RHS      MediaServerConfig `toml:"rhs"`
	Sync     SyncConfig        `toml:"sync"`
	Client   ClientConfig      `toml:"client"`
	Database DatabaseConfig    `toml:"database"`
	Server   ServerConfig      `toml:"server"`
	Watch    WatchConfig       `toml:"watch"`
}

// MediaServerConfig describes one of the two media servers.
//
// An empty APIKey is resolved from the system keyring (see [ResolveAPIKey]).
type MediaServerConfig struct {
	Name      string  `toml:"name"`
	URL       string  `toml:"url"`
	APIKey    string  `toml:"api_key"`
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

// FriendlyName returns the configured name, falling back to the URL host.
func (m MediaServerConfig) FriendlyName() string {
	if m.Name != "" {
		return m.Name
	}
	host := strings.TrimPrefix(strings.TrimPrefix(NormalizeURL(m.URL), "http://"), "https://")
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return host
}

// SyncConfig selects what gets synced.
type SyncConfig struct {
	Audio      bool     `toml:"audio"`
	Video      bool     `toml:"video"`
	Episode    bool     `toml:"episode"`
	Trailer    bool     `toml:"trailer"`
	Movie      bool     `toml:"movie"`
	AdultVideo bool     `toml:"adult_video"`
	MusicVideo bool     `toml:"music_video"`
	Game       bool     `toml:"game"`
	Book       bool     `toml:"book"`
	MaxItems   int      `toml:"max_items"`
	Users      []string `toml:"users"`
	SettleMS   int      `toml:"settle_ms"`
}

// ItemTypes returns the enabled item types joined for the IncludeItemTypes query parameter.
func (s SyncConfig) ItemTypes() string {
	toggles := []struct {
		on   bool
		name string
	}{
		{s.Audio, "Audio"},
		{s.Video, "Video"},
		{s.Episode, "Episode"},
		{s.Trailer, "Trailer"},
		{s.Movie, "Movie"},
		{s.AdultVideo, "AdultVideo"},
		{s.MusicVideo, "MusicVideo"},
		{s.Game, "Game"},
		{s.Book, "Book"},
	}

	var types []string
	for _, t := range toggles {
		if t.on {
			types = append(types, t.name)
		}
	}
	return strings.Join(types, ",")
}

// UserAllowed reports whether name fully matches one of the configured user patterns.
//
// An empty list allows everyone. Invalid patterns never match.
func (s SyncConfig) UserAllowed(name string) bool {
	if len(s.Users) == 0 {
		return true
	}
	for _, pattern := range s.Users {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			continue
		}
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// SettleDelay returns the configured settle delay or [DefaultSettleDelay].
func (s SyncConfig) SettleDelay() time.Duration {
	if s.SettleMS <= 0 {
		return DefaultSettleDelay
	}
	return time.Duration(s.SettleMS) * time.Millisecond
}

// ClientConfig tunes the outbound HTTP client.
type ClientConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	Retries        int `toml:"retries"`
}

// Timeout returns the request timeout, defaulting to 30 seconds.
func (c ClientConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains settings for the watch-mode status server.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WatchConfig holds the cron schedule used by watch mode.
type WatchConfig struct {
	Schedule string `toml:"schedule"`
}

// Servers returns the LHS and RHS server settings in side order.
func (c *Config) Servers() [2]MediaServerConfig {
	return [2]MediaServerConfig{c.LHS, c.RHS}
}

// Validate checks that both servers have a URL.
func (c *Config) Validate() error {
	if c.LHS.URL == "" {
		return fmt.Errorf("%w: lhs.url is required", ErrInvalidConfig)
	}
	if c.RHS.URL == "" {
		return fmt.Errorf("%w: rhs.url is required", ErrInvalidConfig)
	}
	return nil
}

// NormalizeURL prefixes scheme-less URLs with http:// and strips trailing slashes.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if u == "" {
		return ""
	}
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return strings.TrimRight(u, "/")
}

// LoadConfig reads a configuration file from the specified path.
//
// Files ending in .json are read as a JSON settings document ([LoadSettingsJSON]);
// everything else is parsed as TOML on top of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return LoadSettingsJSON(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

type jsonServer struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

type jsonSettings struct {
	LHS            *jsonServer  `json:"lhs"`
	RHS            *jsonServer  `json:"rhs"`
	Servers        []jsonServer `json:"servers"`
	MaxItems       *int         `json:"MaxItems"`
	SyncAudio      *bool        `json:"SyncAudio"`
	SyncVideo      *bool        `json:"SyncVideo"`
	SyncEpisode    *bool        `json:"SyncEpisode"`
	SyncMovie      *bool        `json:"SyncMovie"`
	SyncTrailer    *bool        `json:"SyncTrailer"`
	SyncAdultVideo *bool        `json:"SyncAdultVideo"`
	SyncMusicVideo *bool        `json:"SyncMusicVideo"`
	SyncGame       *bool        `json:"SyncGame"`
	SyncBook       *bool        `json:"SyncBook"`
	SyncUserList   []string     `json:"SyncUserList"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// LoadSettingsJSON reads the JSON settings document used by earlier releases.
//
// Servers come from "lhs"/"rhs" or, failing that, the first two "servers" entries.
// Missing Sync* toggles default to true, a missing MaxItems means no cap and a
// missing SyncUserList allows every user.
func LoadSettingsJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var doc jsonSettings
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	config := DefaultConfig()

	servers := doc.Servers
	if doc.LHS != nil || doc.RHS != nil {
		servers = nil
		for _, s := range []*jsonServer{doc.LHS, doc.RHS} {
			if s == nil {
				s = &jsonServer{}
			}
			servers = append(servers, *s)
		}
	}
	if len(servers) > 0 {
		config.LHS = MediaServerConfig{Name: servers[0].Name, URL: servers[0].URL, APIKey: servers[0].APIKey}
	}
	if len(servers) > 1 {
		config.RHS = MediaServerConfig{Name: servers[1].Name, URL: servers[1].URL, APIKey: servers[1].APIKey}
	}

	config.Sync.Audio = boolOr(doc.SyncAudio, true)
	config.Sync.Video = boolOr(doc.SyncVideo, true)
	config.Sync.Episode = boolOr(doc.SyncEpisode, true)
	config.Sync.Movie = boolOr(doc.SyncMovie, true)
	config.Sync.Trailer = boolOr(doc.SyncTrailer, true)
	config.Sync.AdultVideo = boolOr(doc.SyncAdultVideo, true)
	config.Sync.MusicVideo = boolOr(doc.SyncMusicVideo, true)
	config.Sync.Game = boolOr(doc.SyncGame, true)
	config.Sync.Book = boolOr(doc.SyncBook, true)

	config.Sync.MaxItems = -1
	if doc.MaxItems != nil {
		config.Sync.MaxItems = *doc.MaxItems
	}

	config.Sync.Users = []string{".*"}
	if doc.SyncUserList != nil {
		config.Sync.Users = doc.SyncUserList
	}

	return config, nil
}
