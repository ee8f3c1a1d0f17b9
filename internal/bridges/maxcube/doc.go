// Package maxcube bridges a MAX! Cube engine to MQTT.
//
// Room state is published as retained topics under
// <prefix>/<cube>/<room>/<field>, only for the fields that changed in each
// snapshot. Set commands arrive on <prefix>/<cube>/<room>/set/temp, /mode
// and /weekplan and are answered on <prefix>/<cube>/<room>/ack.
//
// # Architecture
//
//	cube.Engine ──OnRoomChanged──▶ queue ──▶ publisher ──▶ MQTT (retained)
//	                                                        │
//	cube.Engine ◀──ChangeTemp/Mode/Schedule── handleSet ◀───┘ set/*
//
// The engine invokes the bridge on its run-loop goroutine, so the bridge
// only enqueues there. When the queue is full the event is dropped and
// counted.
//
// A HealthReporter publishes a retained JSON report on <prefix>/health
// every 30 seconds.
package maxcube
