package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the per-user directory holding the config file.
	ConfigDir = ".sabakan"
	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
	// EnvPrefix prefixes environment overrides, e.g. SABAKAN_SSH_PASSPHRASE.
	EnvPrefix = "SABAKAN"
)

// Load reads config from the specified path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found: "+path,
				"Create ~/.sabakan/config.yaml, or specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file permissions")
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file is valid YAML: "+path)
	}

	return parseConfig(v, content, path)
}

// Find returns the config path to use: the explicit path if given, then
// $SABAKAN_CONFIG, then ~/.sabakan/config.yaml.
func Find(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Specified config file not found: "+explicit,
				"Check the path is correct")
		}
		return explicit, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine home directory",
			"Pass the config file explicitly with --config")
	}
	return filepath.Join(home, ConfigDir, ConfigFileName), nil
}

// LoadDotEnv loads KEY=value pairs from a .env file into the process
// environment without overriding variables that are already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read "+path,
			"Each line should look like KEY=value")
	}
	return nil
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, content []byte, path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	var doc struct {
		Servers ServerList `yaml:"servers"`
	}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid 'servers' section",
			"Each server needs host, gpustat and du_path keys")
	}
	if doc.Servers != nil {
		cfg.Servers = doc.Servers
	}

	cfg.SSH.SecretKeyPath = expandPath(cfg.SSH.SecretKeyPath)
	cfg.SSH.KnownHostsPath = expandPath(cfg.SSH.KnownHostsPath)
	cfg.SSH.ConfigPath = expandPath(cfg.SSH.ConfigPath)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.secret_key_path", "")
	v.SetDefault("ssh.passphrase", "")
	v.SetDefault("ssh.known_hosts_path", d.SSH.KnownHostsPath)
	v.SetDefault("ssh.strict_host_key", d.SSH.StrictHostKey)
	v.SetDefault("ssh.config_path", "")
	v.SetDefault("timeout.connect", d.Timeout.Connect.String())
	v.SetDefault("timeout.command", d.Timeout.Command.String())
	v.SetDefault("timeout.fetch", d.Timeout.Fetch.String())
	v.SetDefault("cache_ttl", d.CacheTTL.String())
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
