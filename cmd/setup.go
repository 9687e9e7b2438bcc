package main

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/desertthunder/embysync/internal/shared"
	"github.com/urfave/cli/v3"
)

// Init creates the config file when missing and prepares the history database.
//
// With --from-json the legacy JSON settings document is converted to TOML instead
// of writing the example config.
func (r *Runner) Init(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}

	configPath := cmd.String("config")
	if configPath == "" {
		configPath = r.configPath
	}

	if _, err := os.Stat(configPath); err == nil {
		r.logger.Info("config file exists", "path", configPath)
	} else if jsonPath := cmd.String("from-json"); jsonPath != "" {
		r.logger.Info("importing JSON settings", "from", jsonPath, "to", configPath)
		imported, err := shared.LoadSettingsJSON(jsonPath)
		if err != nil {
			return err
		}
		if err := writeConfigTOML(configPath, imported); err != nil {
			return err
		}
		r.writePlain("✓ Imported %s into %s\n", jsonPath, configPath)
	} else {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.writePlain("✓ Created %s\n", configPath)
	}

	config, err := shared.LoadConfig(configPath)
	if err != nil {
		return err
	}
	r.config = config
	r.configPath = configPath

	r.logger.Info("initializing database", "path", config.Database.Path)
	db, err := shared.OpenDatabase(config.Database)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	defer db.Close()

	version, err := shared.SchemaVersion(db)
	if err != nil {
		return err
	}
	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	r.writePlain("✓ History database ready at %s (schema v%d)\n", config.Database.Path, version)

	r.writePlainln("Next steps:")
	r.writePlain("1. Set lhs.url and rhs.url in %s\n", configPath)
	r.writePlain("2. Store API keys with 'embysync keys set lhs' and 'embysync keys set rhs'\n")
	r.writePlain("3. Run 'embysync test-server' to check both servers\n")
	return nil
}

func writeConfigTOML(path string, config *shared.Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("# embysync configuration (imported)\n\n"); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// KeysSet stores a server's API key in the system keyring.
//
// The key is read from --key or, when absent, from the first line of stdin.
func (r *Runner) KeysSet(ctx context.Context, cmd *cli.Command) error {
	side, err := parseSideArg(cmd)
	if err != nil {
		return err
	}

	key := cmd.String("key")
	if key == "" {
		if key, err = r.readLine(); err != nil {
			return err
		}
	}

	if err := shared.StoreAPIKey(side.String(), key); err != nil {
		return err
	}

	r.logger.Info("stored API key", "side", side)
	return r.writePlain("✓ API key for %s stored in keyring\n", side)
}

// KeysDelete removes a server's API key from the system keyring.
func (r *Runner) KeysDelete(ctx context.Context, cmd *cli.Command) error {
	side, err := parseSideArg(cmd)
	if err != nil {
		return err
	}

	if err := shared.DeleteAPIKey(side.String()); err != nil {
		return err
	}

	r.logger.Info("deleted API key", "side", side)
	return r.writePlain("✓ API key for %s removed from keyring\n", side)
}
