// Package buffer keeps failed telemetry batches in a beacon.Store so they
// survive a restart.
//
// Table guards a store that may be missing or broken, Codec turns item
// batches into stored text and back, and Coordinator implements
// beacon.DurableBuffer on top of both.
package buffer
