// Package app hosts the two executables of the bridge: the relay engine
// and the validator attestation node. Each is a Runner that wires its own
// services and HTTP surface; cmd/* binaries stay thin.
package app

// Runner is a long-running application component. Run blocks until the
// component stops, returning a non-nil error only on abnormal exit.
type Runner interface {
	Run() error
}
