package cube

import (
	"fmt"
	"strings"
	"time"
)

// DeviceType identifies the kind of MAX! device as reported in M and C frames.
type DeviceType uint8

// Device types reported by the cube.
const (
	DeviceCube                   DeviceType = 0
	DeviceRadiatorThermostat     DeviceType = 1
	DeviceRadiatorThermostatPlus DeviceType = 2
	DeviceWallThermostat         DeviceType = 3
	DeviceShutterContact         DeviceType = 4
	DeviceEcoButton              DeviceType = 5
	DeviceUndefined              DeviceType = 255
)

// String returns a human-readable device type name.
func (t DeviceType) String() string {
	switch t {
	case DeviceCube:
		return "cube"
	case DeviceRadiatorThermostat:
		return "radiator_thermostat"
	case DeviceRadiatorThermostatPlus:
		return "radiator_thermostat_plus"
	case DeviceWallThermostat:
		return "wall_thermostat"
	case DeviceShutterContact:
		return "shutter_contact"
	case DeviceEcoButton:
		return "eco_button"
	default:
		return "undefined"
	}
}

// IsRadiator reports whether the device is one of the radiator thermostat variants.
func (t DeviceType) IsRadiator() bool {
	return t == DeviceRadiatorThermostat || t == DeviceRadiatorThermostatPlus
}

// Mode is the operating mode of a room.
type Mode uint8

// Operating modes. The numeric values match the low two bits of the
// live-list flag word.
const (
	ModeAuto     Mode = 0
	ModeManual   Mode = 1
	ModeVacation Mode = 2
	ModeBoost    Mode = 3
)

// String returns the upper-case mode name used on MQTT topics.
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "AUTO"
	case ModeManual:
		return "MANUAL"
	case ModeVacation:
		return "VACATION"
	case ModeBoost:
		return "BOOST"
	default:
		return fmt.Sprintf("MODE(%d)", uint8(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseMode parses a mode name case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return ModeAuto, nil
	case "manual":
		return ModeManual, nil
	case "vacation":
		return ModeVacation, nil
	case "boost":
		return ModeBoost, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Weekday indexes the days of a week schedule. The cube starts its week on
// Saturday.
type Weekday uint8

// Schedule days in wire order.
const (
	Saturday Weekday = iota
	Sunday
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
)

var weekdayNames = [DaysPerWeek]string{
	"saturday", "sunday", "monday", "tuesday", "wednesday", "thursday", "friday",
}

// String returns the lower-case day name.
func (d Weekday) String() string {
	if int(d) < len(weekdayNames) {
		return weekdayNames[d]
	}
	return fmt.Sprintf("day(%d)", uint8(d))
}

// ParseWeekday parses a lower- or mixed-case day name.
func ParseWeekday(s string) (Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range weekdayNames {
		if n == name {
			return Weekday(i), nil //nolint:gosec // G115: i < 7
		}
	}
	return 0, fmt.Errorf("%w: unknown day %q", ErrInvalidSchedule, s)
}

// Week schedule dimensions.
const (
	DaysPerWeek    = 7
	PointsPerDay   = 13
	MinutesPerDay  = 1440
	scheduleLength = DaysPerWeek * PointsPerDay * 2
)

// SchedulePoint is one step of a day programme: hold Temperature until
// EndMinute (minutes since midnight).
type SchedulePoint struct {
	Temperature float64 `json:"temp"`
	EndMinute   int     `json:"endtime"`
}

// DaySchedule holds the 13 programme points of a single day.
type DaySchedule [PointsPerDay]SchedulePoint

// Points returns the meaningful prefix of the day, up to and including the
// first point that ends at midnight.
func (d DaySchedule) Points() []SchedulePoint {
	for i, p := range d {
		if p.EndMinute >= MinutesPerDay {
			return append([]SchedulePoint(nil), d[:i+1]...)
		}
	}
	return append([]SchedulePoint(nil), d[:]...)
}

// WeekSchedule is the full 7x13 automatic programme of a thermostat.
type WeekSchedule [DaysPerWeek]DaySchedule

// TimedTemperature is a temperature together with the time it last changed.
type TimedTemperature struct {
	Celsius   float64   `json:"celsius"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimedValve is a valve opening in percent with the time it last changed.
type TimedValve struct {
	Percent   int       `json:"percent"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeFlags is the set of room fields modified during one processing batch.
type ChangeFlags uint8

// Change flags recorded by the store.
const (
	ChangeSetTemp ChangeFlags = 1 << iota
	ChangeActTemp
	ChangeMode
	ChangeConfig
	ChangeContainedDevs
	ChangeValvePos
)

var changeNames = []struct {
	flag ChangeFlags
	name string
}{
	{ChangeSetTemp, "set_temp"},
	{ChangeActTemp, "act_temp"},
	{ChangeMode, "mode"},
	{ChangeConfig, "config"},
	{ChangeContainedDevs, "contained_devs"},
	{ChangeValvePos, "valve_pos"},
}

// Has reports whether every flag in f is set.
func (c ChangeFlags) Has(f ChangeFlags) bool {
	return c&f == f && f != 0
}

// Names returns the symbolic names of the set flags in a stable order.
func (c ChangeFlags) Names() []string {
	names := make([]string, 0, len(changeNames))
	for _, cn := range changeNames {
		if c&cn.flag != 0 {
			names = append(names, cn.name)
		}
	}
	return names
}

// String joins the flag names with commas.
func (c ChangeFlags) String() string {
	return strings.Join(c.Names(), ",")
}

// MarshalJSON encodes the flags as an array of names.
func (c ChangeFlags) MarshalJSON() ([]byte, error) {
	names := c.Names()
	var b strings.Builder
	b.WriteByte('[')
	for i, n := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q", n)
	}
	b.WriteByte(']')
	return []byte(b.String()), nil
}

// RoomSnapshot is an immutable copy of a room's state handed to event
// consumers.
type RoomSnapshot struct {
	ID         uint8            `json:"id"`
	Name       string           `json:"name"`
	SetTemp    TimedTemperature `json:"set_temp"`
	ActualTemp TimedTemperature `json:"actual_temp"`
	Mode       Mode             `json:"mode"`
	Valve      TimedValve       `json:"valve"`
	Schedule   WeekSchedule     `json:"-"`
	Version    uint64           `json:"version"`
	Changes    ChangeFlags      `json:"changes"`
}

// DeviceInfo describes the connected cube. It is emitted once per session
// after the first live list.
type DeviceInfo struct {
	Serial    string `json:"serial"`
	Address   string `json:"address"`
	RFAddress uint32 `json:"rf_address"`
	Firmware  uint16 `json:"firmware"`
}

// FormatRFAddress renders a 24-bit RF address as six lower-case hex digits.
func FormatRFAddress(addr uint32) string {
	return fmt.Sprintf("%06x", addr&0xffffff)
}
