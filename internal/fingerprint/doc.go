// Package fingerprint coordinates a fingerprint reader: the device session
// state machine, its background capture worker and the per-device match
// policy.
//
// A Registry owns at most one Session. A Session opens its ReaderDriver on
// Initialize, runs one captureWorker per capture cycle and scores templates
// through a TemplateMatcher. Hardware families plug in as DriverFactory
// values; nothing in this package knows about a vendor SDK.
package fingerprint
