// Package api implements the HTTP REST API and WebSocket server of the
// MAX! Cube gateway.
//
// This package provides:
//   - REST endpoints to read rooms, devices, cube session info, room history
//     and the command audit log
//   - Room commands (temperature, mode, day schedule) forwarded to the engine
//     and audited
//   - A WebSocket hub broadcasting room.changed and cube.info events
//   - Login against the configured users, JWT bearer auth and single-use
//     WebSocket tickets
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Room reads are answered from the room cache, which the engine keeps
// current through its event handler. Only the device list and commands
// wait on the engine loop. Commands go to the engine with the configured command timeout and their
// errors map to HTTP statuses: unknown room 404, rejected value 400,
// cube not connected 503.
//
// The Hub is itself a cube.EventHandler and is registered with the engine
// alongside the cache.
package api
