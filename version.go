// Package testfm drives the foreman-maintain health subsystem on remote
// Satellite and Capsule hosts and reports what it finds.
package testfm

// Version is the testfm release.
const Version = "0.3.0"
