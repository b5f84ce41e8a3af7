// Package fleet collects status from every configured host.
//
// A Worker runs the three status commands on one open connection and joins
// their output. The Collector dials every host concurrently, runs a Worker on
// each, and assembles the results in configuration order; a failing host only
// affects its own entry. The Cache sits in front of the Collector so repeated
// or concurrent requests for the same fleet share one fetch.
package fleet
