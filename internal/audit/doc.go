// Package audit keeps a trail of the room commands the gateway sends to the
// cube, whichever surface they came from (HTTP API, MQTT or the console).
//
// Entries live in the command_audit SQLite table. Writing goes through
// Recorder, which never fails the caller: a command that reached the cube
// must not be reported as failed because its audit row could not be stored.
package audit
