package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete sabakan configuration file.
type Config struct {
	SSH      SSHConfig     `yaml:"ssh" mapstructure:"ssh"`
	Timeout  TimeoutConfig `yaml:"timeout" mapstructure:"timeout"`
	CacheTTL time.Duration `yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// Servers keeps the order of the 'servers' mapping in the file.
	// Viper lower-cases keys and drops ordering, so it is decoded separately.
	Servers ServerList `yaml:"servers" mapstructure:"-"`
}

// SSHConfig is the single credential set shared by every server in the fleet.
type SSHConfig struct {
	// User is the login name used for servers that don't specify user@host.
	User string `yaml:"user" mapstructure:"user"`

	// SecretKeyPath is the private key file. Empty means use ssh-agent.
	SecretKeyPath string `yaml:"secret_key_path" mapstructure:"secret_key_path"`

	// Passphrase for an encrypted key. Normally left empty and prompted for.
	Passphrase string `yaml:"passphrase" mapstructure:"passphrase"`

	// KnownHostsPath is the known_hosts file used for host key verification.
	KnownHostsPath string `yaml:"known_hosts_path" mapstructure:"known_hosts_path"`

	// StrictHostKey rejects hosts missing from known_hosts when true.
	StrictHostKey bool `yaml:"strict_host_key" mapstructure:"strict_host_key"`

	// ConfigPath is the OpenSSH client config used to resolve host aliases.
	// Empty means ~/.ssh/config.
	ConfigPath string `yaml:"config_path" mapstructure:"config_path"`
}

// TimeoutConfig bounds every network operation of a fetch.
type TimeoutConfig struct {
	// Connect bounds TCP dial plus SSH handshake per host.
	Connect time.Duration `yaml:"connect" mapstructure:"connect"`

	// Command bounds each remote command.
	Command time.Duration `yaml:"command" mapstructure:"command"`

	// Fetch is the overall deadline for one fleet fetch. Zero disables it.
	Fetch time.Duration `yaml:"fetch" mapstructure:"fetch"`
}

// Server is one remote compute host.
type Server struct {
	// Name is the key under 'servers' and identifies the host in reports.
	Name string `yaml:"-" mapstructure:"-"`

	// Host is an address, user@host[:port], or an alias from ~/.ssh/config.
	Host string `yaml:"host" mapstructure:"host"`

	// GPUStat is the gpustat executable on the remote; " --json" is appended.
	GPUStat string `yaml:"gpustat" mapstructure:"gpustat"`

	// DUPath is a remote text file holding periodic disk usage output.
	DUPath string `yaml:"du_path" mapstructure:"du_path"`
}

// ServerList is the ordered content of the 'servers' mapping.
type ServerList []Server

// UnmarshalYAML decodes a mapping of name -> server keeping document order.
func (l *ServerList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: 'servers' must be a mapping of name to server", value.Line)
	}

	out := make(ServerList, 0, len(value.Content)/2)
	seen := make(map[string]bool)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]

		var s Server
		if err := valNode.Decode(&s); err != nil {
			return fmt.Errorf("server '%s': %w", keyNode.Value, err)
		}
		if seen[keyNode.Value] {
			return fmt.Errorf("line %d: server '%s' is defined twice", keyNode.Line, keyNode.Value)
		}
		seen[keyNode.Value] = true
		s.Name = keyNode.Value
		out = append(out, s)
	}

	*l = out
	return nil
}

// Names returns the server names in configuration order.
func (l ServerList) Names() []string {
	names := make([]string, len(l))
	for i, s := range l {
		names[i] = s.Name
	}
	return names
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SSH: SSHConfig{
			KnownHostsPath: "~/.ssh/known_hosts",
			StrictHostKey:  true,
		},
		Timeout: TimeoutConfig{
			Connect: 10 * time.Second,
			Command: 3 * time.Second,
			Fetch:   30 * time.Second,
		},
		CacheTTL: 10 * time.Second,
		Servers:  ServerList{},
	}
}
