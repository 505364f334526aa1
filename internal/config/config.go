package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration
type Config struct {
	General GeneralConfig `toml:"general"`
	Account AccountConfig `toml:"account"`
	MUC     MUCConfig     `toml:"muc"`
	Logging LoggingConfig `toml:"logging"`
	Storage StorageConfig `toml:"storage"`
	Plugins PluginsConfig `toml:"plugins"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	DataDir     string `toml:"data_dir"`
	AutoConnect bool   `toml:"auto_connect"`
}

// AccountConfig contains the XMPP account settings
type AccountConfig struct {
	JID      string `toml:"jid"`
	Password string `toml:"password"`
	Server   string `toml:"server"`
	Port     int    `toml:"port"`
	Resource string `toml:"resource"`
}

// MUCConfig contains groupchat settings.
//
// AutoJoin accepts a heterogeneous TOML array: bare JID strings or
// {jid, nick, password} tables. DisabledRoles is either a list of role
// names or the boolean true, meaning every role. Both are normalized
// at load time, not at use time.
type MUCConfig struct {
	Enabled            bool          `toml:"enabled"`
	AllowInvites       bool          `toml:"allow_invites"`
	AutoAcceptInvites  bool          `toml:"auto_accept_invites"`
	AutoJoin           []interface{} `toml:"autojoin"`
	DisabledRoles      interface{}   `toml:"disabled_roles"`
	ShownStatusCodes   []int         `toml:"shown_status_codes"`
	NickPolicy         string        `toml:"nick_policy"`
	MEPLegacyGroupchat bool          `toml:"mep_legacy_groupchat"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	Console bool   `toml:"console"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// SaveRooms enables/disables persisting the groupchat room list
	SaveRooms bool `toml:"save_rooms"`

	// VacuumOnStartup runs database vacuum on startup
	VacuumOnStartup bool `toml:"vacuum_on_startup"`
}

// PluginsConfig contains plugin settings
type PluginsConfig struct {
	Enabled   []string `toml:"enabled"`
	PluginDir string   `toml:"plugin_dir"`
}

// Paths holds the XDG-compliant paths for the application
type Paths struct {
	ConfigDir string
	DataDir   string
	CacheDir  string
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:     "",
			AutoConnect: true,
		},
		Account: AccountConfig{
			Port:     5222,
			Resource: "caucus",
		},
		MUC: MUCConfig{
			Enabled:            true,
			AllowInvites:       true,
			AutoAcceptInvites:  false,
			ShownStatusCodes:   []int{110, 301, 303, 307},
			NickPolicy:         "localpart",
			MEPLegacyGroupchat: true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    "",
			Console: false,
		},
		Storage: StorageConfig{
			SaveRooms:       true,
			VacuumOnStartup: false,
		},
		Plugins: PluginsConfig{
			Enabled:   []string{},
			PluginDir: "",
		},
	}
}

// GetPaths returns XDG-compliant paths for the application
func GetPaths() (*Paths, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, ".config")
	}
	configDir = filepath.Join(configDir, "caucus")

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	dataDir = filepath.Join(dataDir, "caucus")

	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	cacheDir = filepath.Join(cacheDir, "caucus")

	return &Paths{
		ConfigDir: configDir,
		DataDir:   dataDir,
		CacheDir:  cacheDir,
	}, nil
}

// EnsureDirectories creates the necessary directories
func (p *Paths) EnsureDirectories() error {
	dirs := []string{p.ConfigDir, p.DataDir, p.CacheDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Load loads the configuration from the config file
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}

	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	configPath := filepath.Join(paths.ConfigDir, "config.toml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Config doesn't exist, use defaults
		cfg.General.DataDir = paths.DataDir
		cfg.Plugins.PluginDir = filepath.Join(paths.DataDir, "plugins")
		cfg.Logging.File = filepath.Join(paths.DataDir, "caucus.log")
		return cfg, nil
	}

	if _, err := toml.DecodeFile(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if cfg.General.DataDir == "" {
		cfg.General.DataDir = paths.DataDir
	} else {
		cfg.General.DataDir = expandPath(cfg.General.DataDir)
	}

	if cfg.Plugins.PluginDir == "" {
		cfg.Plugins.PluginDir = filepath.Join(cfg.General.DataDir, "plugins")
	} else {
		cfg.Plugins.PluginDir = expandPath(cfg.Plugins.PluginDir)
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.General.DataDir, "caucus.log")
	} else {
		cfg.Logging.File = expandPath(cfg.Logging.File)
	}

	return cfg, nil
}

// Save saves the configuration to the config file
func Save(cfg *Config) error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}

	configPath := filepath.Join(paths.ConfigDir, "config.toml")
	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
