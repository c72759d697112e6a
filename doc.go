// Package beacon delivers client telemetry (error reports and breadcrumb
// batches) to a remote collector.
//
// Typical flow:
//  1. Build an Agent with NewAgent and enable it with Configure.
//  2. Producers call SubmitError and SubmitBreadcrumbs; items are batched in memory.
//  3. A batch is posted when BatchSize is reached or BatchTimeout expires. Failed
//     batches are retried with exponential backoff and, when UsePersistentBuffer is
//     set, also kept in a durable store so they survive a restart.
//  4. Start re-sends batches left in the durable store by a previous session.
//
// Payloads are encoded with the serial package, which tolerates cyclic and
// non-JSON values. Durable backends live in the badger and mysql packages and
// are wrapped by buffer.Coordinator.
package beacon
