// Package cli implements the sabakan command-line interface.
//
// Every command shares one pipeline: load and validate the config, select
// the servers named by --hosts, resolve SSH credentials (prompting for a key
// passphrase at most once per process), then fetch the fleet status through
// a fleet.Cache so concurrent and repeated requests share work.
//
//	sabakan status            - GPU, process and disk tables for the fleet
//	sabakan storage [--top N] - largest disk users per host
//	sabakan watch             - refreshing dashboard
//	sabakan version           - build information
//
// Global flags (--config, --hosts, --json, --verbose, --no-color) are
// defined on the root command. With --json, output and errors are written
// as a JSONEnvelope on stdout.
package cli
