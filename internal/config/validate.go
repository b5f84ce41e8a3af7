package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/util"
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig, "No config loaded", "Create ~/.sabakan/config.yaml")
	}

	if len(cfg.Servers) == 0 {
		return errors.New(errors.ErrConfig,
			"No servers configured",
			"Add at least one entry under 'servers' in your config file.")
	}

	for _, s := range cfg.Servers {
		if err := validateServer(s); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
				fmt.Sprintf("Check the 'servers.%s' section in your config file.", s.Name))
		}
	}

	if err := validateTimeouts(cfg.Timeout); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
			"Check the 'timeout' section in your config file.")
	}

	if cfg.CacheTTL < 0 {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("cache_ttl can't be negative (got %s)", cfg.CacheTTL),
			"Use 0 to disable caching, or something like 10s.")
	}

	return nil
}

func validateServer(s Server) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("server with an empty name")
	}
	if strings.TrimSpace(s.Host) == "" {
		return fmt.Errorf("server '%s' has no host", s.Name)
	}
	if strings.TrimSpace(s.GPUStat) == "" {
		return fmt.Errorf("server '%s' has no gpustat command", s.Name)
	}
	if strings.TrimSpace(s.DUPath) == "" {
		return fmt.Errorf("server '%s' has no du_path", s.Name)
	}
	return nil
}

func validateTimeouts(t TimeoutConfig) error {
	checks := []struct {
		name  string
		value time.Duration
	}{
		{"timeout.connect", t.Connect},
		{"timeout.command", t.Command},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return fmt.Errorf("%s must be positive (got %s)", c.name, c.value)
		}
	}
	if t.Fetch < 0 {
		return fmt.Errorf("timeout.fetch can't be negative (got %s)", t.Fetch)
	}
	return nil
}

// Select resolves the requested server names against the config.
// An empty request selects every server. The result follows configuration
// order and each server appears once, however often it was requested.
func (c *Config) Select(names []string) (ServerList, error) {
	if len(names) == 0 {
		out := make(ServerList, len(c.Servers))
		copy(out, c.Servers)
		return out, nil
	}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		want[n] = true
	}

	var unknown []string
	for n := range want {
		if _, ok := c.Server(n); !ok {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown server(s): %s", strings.Join(unknown, ", ")),
			fmt.Sprintf("Configured servers: %s", util.JoinOrNone(c.Servers.Names())))
	}

	out := make(ServerList, 0, len(want))
	for _, s := range c.Servers {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, errors.New(errors.ErrConfig, "No servers selected", "Pass at least one name to --hosts")
	}
	return out, nil
}

// Server looks up a server by name.
func (c *Config) Server(name string) (Server, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return Server{}, false
}
