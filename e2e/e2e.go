// This package contains end-to-end tests, all of which are meant to be tagged
// with the e2e build tag. They run foreman-maintain on live Satellite or
// Capsule hosts through the configured executor:
//
//	go test -tags e2e ./e2e -testfm.pattern capsule
//
// The target release is probed once per run and tests outside their
// release range are skipped.
package e2e
