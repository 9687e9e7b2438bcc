package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./embysync.db" {
			t.Errorf("expected database path ./embysync.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if got := config.Sync.ItemTypes(); got != "Video,Episode,Movie" {
			t.Errorf("expected default item types Video,Episode,Movie, got %s", got)
		}

		if config.Sync.SettleDelay() != 500*time.Millisecond {
			t.Errorf("expected 500ms settle delay, got %v", config.Sync.SettleDelay())
		}

		if config.Watch.Schedule != "@every 1h" {
			t.Errorf("expected hourly schedule, got %s", config.Watch.Schedule)
		}

		if config.LHS.Name != "" || config.RHS.Name != "" {
			t.Errorf("expected no default server names, got %q and %q", config.LHS.Name, config.RHS.Name)
		}

		if got := config.LHS.FriendlyName(); got != "localhost:8096" {
			t.Errorf("expected lhs name to fall back to URL host, got %s", got)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.LHS.URL != DefaultConfig().LHS.URL {
			t.Errorf("created config lhs url doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[lhs]
url = "emby-a:8096"
api_key = "key-a"

[rhs]
name = "b"
url = "https://emby-b.example.com/"

[sync]
movie = true
episode = false
video = false
book = true
max_items = 25
users = ["alice", "b.*"]

[database]
path = "/custom/path.db"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Server.Port != 3000 {
			t.Errorf("expected default port to survive, got %d", config.Server.Port)
		}
		if config.LHS.APIKey != "key-a" {
			t.Errorf("expected api key key-a, got %s", config.LHS.APIKey)
		}
		if got := config.Sync.ItemTypes(); got != "Movie,Book" {
			t.Errorf("expected Movie,Book, got %s", got)
		}
		if config.Sync.MaxItems != 25 {
			t.Errorf("expected max items 25, got %d", config.Sync.MaxItems)
		}
		if config.LHS.FriendlyName() != "emby-a:8096" {
			t.Errorf("expected host fallback name, got %s", config.LHS.FriendlyName())
		}
		if config.RHS.FriendlyName() != "b" {
			t.Errorf("expected configured name b, got %s", config.RHS.FriendlyName())
		}
		if err := config.Validate(); err != nil {
			t.Errorf("expected valid config, got %v", err)
		}
	})

	t.Run("Validate", func(t *testing.T) {
		config := DefaultConfig()
		config.RHS.URL = ""
		if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestLoadSettingsJSON(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.json")
		doc := `{"lhs": {"url": "http://a:8096", "api_key": "ka"}, "rhs": {"url": "b:8096", "api_key": "kb"}}`
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatalf("failed to write settings: %v", err)
		}

		config, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("failed to load settings: %v", err)
		}

		if config.LHS.APIKey != "ka" || config.RHS.URL != "b:8096" {
			t.Errorf("unexpected servers %+v %+v", config.LHS, config.RHS)
		}
		want := "Audio,Video,Episode,Trailer,Movie,AdultVideo,MusicVideo,Game,Book"
		if got := config.Sync.ItemTypes(); got != want {
			t.Errorf("expected %s, got %s", want, got)
		}
		if config.Sync.MaxItems != -1 {
			t.Errorf("expected no cap, got %d", config.Sync.MaxItems)
		}
		if !config.Sync.UserAllowed("anyone") {
			t.Error("expected default user list to allow everyone")
		}
	})

	t.Run("Servers array and toggles", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.json")
		doc := `{
			"servers": [{"name": "one", "url": "a"}, {"name": "two", "url": "b"}],
			"SyncAudio": false, "SyncGame": false, "SyncBook": false,
			"MaxItems": 10,
			"SyncUserList": ["bob"]
		}`
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatalf("failed to write settings: %v", err)
		}

		config, err := LoadSettingsJSON(path)
		if err != nil {
			t.Fatalf("failed to load settings: %v", err)
		}

		if config.LHS.Name != "one" || config.RHS.Name != "two" {
			t.Errorf("expected servers one/two, got %s/%s", config.LHS.Name, config.RHS.Name)
		}
		if got := config.Sync.ItemTypes(); got != "Video,Episode,Trailer,Movie,AdultVideo,MusicVideo" {
			t.Errorf("unexpected item types %s", got)
		}
		if config.Sync.MaxItems != 10 {
			t.Errorf("expected 10, got %d", config.Sync.MaxItems)
		}
		if config.Sync.UserAllowed("alice") {
			t.Error("alice should not be allowed")
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "settings.json")
		if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
			t.Fatalf("failed to write settings: %v", err)
		}
		if _, err := LoadConfig(path); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestUserAllowed(t *testing.T) {
	s := SyncConfig{Users: []string{"alice", "b.*", "("}}

	tests := map[string]bool{
		"alice":  true,
		"alicia": false,
		"bob":    true,
		"carol":  false,
	}
	for name, want := range tests {
		if got := s.UserAllowed(name); got != want {
			t.Errorf("UserAllowed(%q) = %v, want %v", name, got, want)
		}
	}

	if !(SyncConfig{}).UserAllowed("anyone") {
		t.Error("empty allow-list should allow everyone")
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := map[string]string{
		"localhost:8096":         "http://localhost:8096",
		"https://emby.example/":  "https://emby.example",
		" http://10.0.0.2:8096 ": "http://10.0.0.2:8096",
		"":                       "",
	}
	for in, want := range tests {
		if got := NormalizeURL(in); got != want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", in, got, want)
		}
	}
}
