// Package pipeline runs the snapshot-then-compute loop that turns pattern
// and calibration changes into holograms.
//
// Change notifications are coalesced into a single pending request. Each
// compute works on an immutable snapshot of the traps and a calibration
// frame, so edits made while it runs never race with it. A newer request
// supersedes the one in flight: the running compute is cancelled and only
// the most recent state is computed. Caches computed on the snapshot are
// handed back to the live pattern afterwards.
package pipeline
