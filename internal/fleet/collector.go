package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/sabakan-dev/sabakan/internal/config"
	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/logger"
	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/sabakan-dev/sabakan/pkg/sshutil"
)

// Options bounds the network work of a fetch.
type Options struct {
	// ConnectTimeout bounds TCP dial plus SSH handshake per host.
	ConnectTimeout time.Duration

	// ExecTimeout bounds each remote command.
	ExecTimeout time.Duration

	// Deadline bounds the whole fetch. Hosts still running when it passes
	// are reported with KindTimeout. Zero disables it.
	Deadline time.Duration
}

// OptionsFromConfig reads Options from the timeout section.
func OptionsFromConfig(t config.TimeoutConfig) Options {
	return Options{
		ConnectTimeout: t.Connect,
		ExecTimeout:    t.Command,
		Deadline:       t.Fetch,
	}
}

// Collector fetches the status of a set of hosts concurrently.
type Collector struct {
	dialer sshutil.Dialer
	opts   Options
	log    logger.Logger
	now    func() time.Time
}

// NewCollector creates a collector that opens connections through dialer.
func NewCollector(dialer sshutil.Dialer, opts Options, log logger.Logger) *Collector {
	if log == nil {
		log = logger.Noop()
	}
	return &Collector{
		dialer: dialer,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

// Fetch collects every server and returns one entry per distinct server
// name, in the order given. Per-host failures are recorded in the entry and
// never fail the fetch; only an empty server list is an error.
//
// Each host runs on its own goroutine with its own result channel. When the
// deadline passes or ctx is cancelled, hosts that haven't reported are
// recorded as timed out and their goroutines are cancelled.
func (c *Collector) Fetch(ctx context.Context, servers []config.Server) (status.FleetStatus, error) {
	servers = uniqueServers(servers)
	if len(servers) == 0 {
		return status.FleetStatus{}, errors.New(errors.ErrConfig,
			"No servers to fetch",
			"Add servers to your config or check the names passed with --hosts.")
	}

	if c.opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Deadline)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := c.now()
	results := make([]chan status.HostStatus, len(servers))
	for i, server := range servers {
		ch := make(chan status.HostStatus, 1)
		results[i] = ch
		go func(server config.Server) {
			ch <- c.collectOne(ctx, server)
		}(server)
	}

	var fleet status.FleetStatus
	for i, server := range servers {
		var hs status.HostStatus
		select {
		case hs = <-results[i]:
		case <-ctx.Done():
			select {
			case hs = <-results[i]:
			default:
				hs = status.Failed(status.KindTimeout, errors.Summary(pendingError(ctx.Err(), c.opts.Deadline)))
				c.log.Warn("%s: no result before the fetch ended", server.Name)
			}
		}
		fleet.Set(server.Name, hs)
	}

	fleet.CollectedAt = c.now()
	c.log.Debug("fetched %d hosts (%d failed) in %s",
		fleet.Len(), fleet.Failures(), fleet.CollectedAt.Sub(start).Round(time.Millisecond))
	return fleet, nil
}

func (c *Collector) collectOne(ctx context.Context, server config.Server) (hs status.HostStatus) {
	start := c.now()
	defer func() {
		if r := recover(); r != nil {
			hs = status.Failed(status.KindExec, fmt.Sprintf("collector panicked: %v", r))
		}
		if !hs.IsOK() {
			c.log.Warn("%s: %s error: %s", server.Name, hs.Error.Kind, hs.Error.Message)
			return
		}
		c.log.Debug("%s: done in %s", server.Name, c.now().Sub(start).Round(time.Millisecond))
	}()

	c.log.Debug("%s: connecting to %s", server.Name, server.Host)
	client, err := c.dialer.Dial(ctx, server.Host, c.opts.ConnectTimeout)
	if err != nil {
		kind := status.KindConnect
		if ctx.Err() != nil {
			kind = status.KindTimeout
		}
		return status.Failed(kind, errors.Summary(err))
	}
	defer client.Close()

	w := &Worker{ExecTimeout: c.opts.ExecTimeout, Log: c.log}
	return w.Collect(ctx, server, client)
}

func uniqueServers(servers []config.Server) []config.Server {
	seen := make(map[string]bool, len(servers))
	out := make([]config.Server, 0, len(servers))
	for _, s := range servers {
		if seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		out = append(out, s)
	}
	return out
}

// pendingError describes a host that hadn't reported when the fetch ended.
func pendingError(err error, deadline time.Duration) *errors.Error {
	if err == context.DeadlineExceeded && deadline > 0 {
		return errors.NewTimeout(errors.ErrConnect,
			fmt.Sprintf("no result within the %s fetch deadline", deadline),
			"Raise timeout.fetch or check the host.")
	}
	return errors.WrapWithCode(err, errors.ErrConnect, "fetch ended before the host reported", "")
}
