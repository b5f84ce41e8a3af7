// Package status holds the data collected from each host: GPU snapshots from
// gpustat, process records from ps, disk usage reports, and the per-host and
// fleet-wide results that combine them.
//
// Values in this package are snapshots. Once a FleetStatus is returned from a
// fetch it is not modified again, so it can be shared between goroutines and
// cached.
package status
