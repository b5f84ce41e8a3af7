package cli

import (
	"context"
	"os"

	"github.com/sabakan-dev/sabakan/internal/config"
	"github.com/sabakan-dev/sabakan/internal/fleet"
	"github.com/sabakan-dev/sabakan/internal/logger"
	"github.com/sabakan-dev/sabakan/internal/secret"
	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/sabakan-dev/sabakan/pkg/sshutil"
)

// app holds what every fetch needs. One app lives for the whole process so
// the passphrase prompt and the cache are shared by repeated fetches.
type app struct {
	cfg      *config.Config
	servers  config.ServerList
	log      logger.Logger
	cache    *fleet.Cache
	prompter *secret.Prompter

	// newDialer turns resolved credentials into a Dialer. Tests swap it for
	// a mock.
	newDialer func(*sshutil.Auth) sshutil.Dialer
}

// loadApp reads and validates the config and selects the servers named by
// --hosts. SSH warnings go to stderr.
func loadApp() (*app, error) {
	// Host failures already show up in the output; log only when asked.
	log := logger.Noop()
	if debugLogging() {
		log = logger.Default()
	}
	return loadAppWith(log, logger.Default())
}

// loadAppWith is loadApp with the fetch logger and the logger for SSH
// warnings chosen by the caller.
func loadAppWith(log, warn logger.Logger) (*app, error) {
	path, err := config.Find(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	a, err := newApp(cfg, splitHosts(hostsFlag), log)
	if err != nil {
		return nil, err
	}
	routeWarnings(warn)
	return a, nil
}

func debugLogging() bool {
	return verbose || os.Getenv("SABAKAN_DEBUG") != ""
}

// routeWarnings sends sshutil warnings, such as an unknown host key being
// accepted, to l.
func routeWarnings(l logger.Logger) {
	sshutil.WarningHandler = func(message string) {
		l.Warn("%s", message)
	}
}

func newApp(cfg *config.Config, names []string, log logger.Logger) (*app, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	servers, err := cfg.Select(names)
	if err != nil {
		return nil, err
	}

	sshutil.ConfigPath = cfg.SSH.ConfigPath

	read := secret.FormReader()
	if noColor {
		read = secret.TerminalReader(os.Stdin, os.Stderr)
	}

	// A configured passphrase moves into the prompter, which wipes it on
	// Reset. The config keeps no copy.
	prompter := secret.NewPrompter(read)
	if cfg.SSH.Passphrase != "" {
		pass := []byte(cfg.SSH.Passphrase)
		prompter.Preset(pass)
		clear(pass)
		cfg.SSH.Passphrase = ""
	}

	return &app{
		cfg:      cfg,
		servers:  servers,
		log:      log,
		cache:    fleet.NewCache(cfg.CacheTTL, log),
		prompter: prompter,
		newDialer: func(auth *sshutil.Auth) sshutil.Dialer {
			return &sshutil.AuthDialer{Auth: auth}
		},
	}, nil
}

// fetch returns the fleet status, from the cache when it is fresh. A fatal
// error drops the cached entry so the next fetch starts over.
func (a *app) fetch(ctx context.Context) (status.FleetStatus, error) {
	key, err := fleet.Key(a.cfg, a.servers)
	if err != nil {
		return status.FleetStatus{}, err
	}

	fs, err := a.cache.FetchCached(ctx, key, a.produce)
	if err != nil {
		a.cache.Invalidate(key)
		return status.FleetStatus{}, err
	}
	return fs, nil
}

// refresh drops the cached entry and fetches again.
func (a *app) refresh(ctx context.Context) (status.FleetStatus, error) {
	a.cache.Clear()
	return a.fetch(ctx)
}

func (a *app) produce(ctx context.Context) (status.FleetStatus, error) {
	auth, err := secret.Resolve(a.cfg.SSH, a.prompter)
	if err != nil {
		return status.FleetStatus{}, err
	}

	collector := fleet.NewCollector(a.newDialer(auth), fleet.OptionsFromConfig(a.cfg.Timeout), a.log)
	return collector.Fetch(ctx, a.servers)
}
