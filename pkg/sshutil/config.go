package sshutil

import (
	"bytes"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kevinburke/ssh_config"
)

// ConfigPath is the OpenSSH client config consulted for host aliases.
// Empty means ~/.ssh/config.
var ConfigPath string

// matchWarningOnce ensures the SSH config Match directive warning is only shown once per process.
var matchWarningOnce sync.Once

// WarningHandler is a function that handles warning messages.
// If nil, warnings are printed to stderr via log.Printf.
var WarningHandler func(message string)

// emitWarning sends a warning through the configured handler or falls back to log.Printf.
func emitWarning(message string) {
	if WarningHandler != nil {
		WarningHandler(message)
	} else {
		log.Printf("Warning: %s", message)
	}
}

// sshSettings holds resolved SSH connection parameters.
type sshSettings struct {
	hostname string
	port     string
	user     string
}

// address returns the host:port string for dialing.
func (s *sshSettings) address() string {
	return net.JoinHostPort(s.hostname, s.port)
}

// resolveSSHSettings parses user@host:port and fills the gaps from the SSH config.
// User precedence: explicit user@ prefix, then defaultUser, then the SSH config, then $USER.
func resolveSSHSettings(host, defaultUser string) *sshSettings {
	settings := &sshSettings{port: "22"}

	explicitUser := ""
	if atIdx := strings.Index(host, "@"); atIdx != -1 {
		explicitUser = host[:atIdx]
		host = host[atIdx+1:]
	}

	explicitPort := ""
	if colonIdx := strings.LastIndex(host, ":"); colonIdx != -1 {
		potentialPort := host[colonIdx+1:]
		if isDigits(potentialPort) {
			explicitPort = potentialPort
			host = host[:colonIdx]
		}
	}

	settings.hostname = host

	configUser := ""
	if cfg, matchLine, err := loadSSHConfig(); err == nil {
		found := false
		if hostname, _ := cfg.Get(host, "HostName"); hostname != "" {
			settings.hostname = hostname
			found = true
		}
		if port, _ := cfg.Get(host, "Port"); port != "" {
			settings.port = port
			found = true
		}
		if user, _ := cfg.Get(host, "User"); user != "" {
			configUser = user
			found = true
		}

		// Only warn about Match block if host wasn't found - it might be defined after the Match
		if matchLine > 0 && !found {
			matchWarningOnce.Do(func() {
				emitWarning(fmt.Sprintf(
					"Host '%s' not found in SSH config (config has a Match block at line %d that may hide later entries).",
					host, matchLine))
			})
		}
	}

	if explicitPort != "" {
		settings.port = explicitPort
	}

	switch {
	case explicitUser != "":
		settings.user = explicitUser
	case defaultUser != "":
		settings.user = defaultUser
	case configUser != "":
		settings.user = configUser
	default:
		settings.user = currentUser()
	}

	return settings
}

// loadSSHConfig decodes the SSH config, ignoring everything from the first Match
// directive on since kevinburke/ssh_config can't parse Match blocks.
func loadSSHConfig() (*ssh_config.Config, int, error) {
	path := ConfigPath
	if path == "" {
		path = filepath.Join(homeDir(), ".ssh", "config")
	}

	content, matchLine, err := preprocessSSHConfig(path)
	if err != nil {
		return nil, 0, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, 0, err
	}
	return cfg, matchLine, nil
}

// preprocessSSHConfig reads the SSH config and returns content up to the first Match directive.
// Also returns the line number where Match was found (0 if not found).
func preprocessSSHConfig(configPath string) ([]byte, int, error) {
	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, 0, err
	}

	lines := strings.Split(string(content), "\n")
	var result []string
	matchLine := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(strings.ToLower(trimmed), "match ") {
			matchLine = i + 1
			break
		}
		result = append(result, line)
	}

	return []byte(strings.Join(result, "\n")), matchLine, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}

func currentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "root"
}
