package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every gateway topic when
// mqtt.topic_prefix is not configured.
const DefaultTopicPrefix = "max2mqtt"

// Room value topics published by the gateway.
const (
	FieldActualTemp = "act-temp"
	FieldSetTemp    = "set-temp"
	FieldValvePos   = "valve-pos"
	FieldMode       = "mode"
	FieldWeekplan   = "weekplan"
)

// Command topics accepted under <prefix>/<cube>/<room>/set/.
const (
	SetTemp     = "temp"
	SetMode     = "mode"
	SetWeekplan = "weekplan"
)

// Topics builds MAX! gateway topics under a common prefix.
//
// Layout:
//
//	max2mqtt/health                          gateway status (retained, LWT)
//	max2mqtt/<cube>/rooms                    comma-joined room names
//	max2mqtt/<cube>/<room>/<field>           retained room values
//	max2mqtt/<cube>/<room>/set/<command>     inbound commands
//	max2mqtt/<cube>/<room>/ack               command results
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Health returns the gateway status topic.
//
// Example: max2mqtt/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/health", t.Prefix)
}

// Rooms returns the room list topic for a cube.
//
// Example: max2mqtt/NEQ0526955/rooms
func (t Topics) Rooms(cube string) string {
	return fmt.Sprintf("%s/%s/rooms", t.Prefix, SanitizeLevel(cube))
}

// RoomValue returns the retained value topic for one room field.
//
// Example: max2mqtt/NEQ0526955/Living/set-temp
func (t Topics) RoomValue(cube, room, field string) string {
	return fmt.Sprintf("%s/%s/%s/%s", t.Prefix, SanitizeLevel(cube), SanitizeLevel(room), field)
}

// Ack returns the command acknowledgement topic for a room.
//
// Example: max2mqtt/NEQ0526955/Living/ack
func (t Topics) Ack(cube, room string) string {
	return fmt.Sprintf("%s/%s/%s/ack", t.Prefix, SanitizeLevel(cube), SanitizeLevel(room))
}

// SetPattern returns the subscription pattern for one command across
// every cube and room.
//
// Pattern: max2mqtt/+/+/set/temp
func (t Topics) SetPattern(command string) string {
	return fmt.Sprintf("%s/+/+/set/%s", t.Prefix, command)
}

// SetTopic is a parsed inbound command topic. Cube and Room hold the
// topic levels as published, which are sanitised names.
type SetTopic struct {
	Cube    string
	Room    string
	Command string
}

// ParseSet splits <prefix>/<cube>/<room>/set/<command>.
// ok is false for any other shape.
func (t Topics) ParseSet(topic string) (SetTopic, bool) {
	rest, found := strings.CutPrefix(topic, t.Prefix+"/")
	if !found {
		return SetTopic{}, false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 4 || parts[2] != "set" {
		return SetTopic{}, false
	}
	if parts[0] == "" || parts[1] == "" || parts[3] == "" {
		return SetTopic{}, false
	}
	return SetTopic{Cube: parts[0], Room: parts[1], Command: parts[3]}, true
}

// SanitizeLevel makes s usable as a single topic level by replacing the
// separator and wildcard characters with underscores.
func SanitizeLevel(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#':
			return '_'
		}
		return r
	}, s)
}
