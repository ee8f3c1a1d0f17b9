// Package room keeps the gateway's view of MAX! rooms outside the cube
// engine.
//
// The engine reports every room change through cube.EventHandler. This
// package provides three consumers of those events:
//
//   - Cache: the latest snapshot per room, read by the API and console
//   - SQLiteHistoryRepository: a local audit trail of snapshots
//   - Recorder: a worker that writes snapshots to history and telemetry
//     without blocking the engine's run loop
//
// # Thread Safety
//
// All exported types are safe for concurrent use.
package room
