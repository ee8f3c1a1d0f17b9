package cube

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Frame prefixes sent by the cube.
const (
	FrameHello    byte = 'H'
	FrameMetadata byte = 'M'
	FrameLiveList byte = 'L'
	FrameConfig   byte = 'C'
	FrameSendAck  byte = 'S'
	FrameNTPAck   byte = 'F'
)

// Live-list flag bits.
const (
	flagValid    = 0x1000
	flagModeMask = 0x0003
)

// Live-list submessage lengths (excluding the length byte itself).
const (
	liveMinLength      = 6
	liveRadiatorLength = 11
	liveWallLength     = 12
)

// Configuration payload layout.
const (
	configHeaderLength     = 18
	radiatorScheduleOffset = 29
	wallScheduleOffset     = 30
	serialLength           = 10
)

// Hello is the decoded H frame sent once after the cube accepts a
// connection.
type Hello struct {
	Serial    string
	RFAddress uint32
	Firmware  string
	DutyCycle uint32
	Date      string
	Time      string
}

// RoomMeta is one room entry of an M frame.
type RoomMeta struct {
	ID           uint8
	Name         string
	GroupAddress uint32
}

// DeviceMeta is one device entry of an M frame.
type DeviceMeta struct {
	Type      DeviceType
	RFAddress uint32
	Serial    string
	Name      string
	RoomID    uint8
}

// Metadata is the decoded M frame: the cube's rooms and devices in wire order.
type Metadata struct {
	Rooms   []RoomMeta
	Devices []DeviceMeta
}

// DeviceReading is one decoded live-list submessage.
type DeviceReading struct {
	RFAddress     uint32
	Source        DeviceType
	Flags         uint16
	ValvePosition uint8
	SetTemp       float64
	ActualTemp    float64
	MinutesUntil  int
	DateUntil     uint16
}

// Mode returns the operating mode encoded in the flag word.
func (r DeviceReading) Mode() Mode {
	return Mode(r.Flags & flagModeMask) //nolint:gosec // G115: masked to 2 bits
}

// Calibration is the type-specific part of a device configuration. It is
// either RadiatorCalibration or WallCalibration.
type Calibration interface {
	calibration()
}

// RadiatorCalibration holds the setpoints of a radiator thermostat.
type RadiatorCalibration struct {
	Comfort    float64 `json:"comfort"`
	Eco        float64 `json:"eco"`
	Max        float64 `json:"max"`
	Min        float64 `json:"min"`
	TempOffset float64 `json:"temp_offset"`
}

// WallCalibration holds the setpoints of a wall thermostat.
type WallCalibration struct {
	Comfort float64 `json:"comfort"`
	Eco     float64 `json:"eco"`
	Max     float64 `json:"max"`
	Min     float64 `json:"min"`
}

func (RadiatorCalibration) calibration() {}
func (WallCalibration) calibration()     {}

// DeviceConfig is a device's identity plus its decoded C frame, if any.
type DeviceConfig struct {
	RFAddress   uint32
	Type        DeviceType
	RoomID      uint8
	Firmware    uint8
	Serial      string
	Name        string
	Calibration Calibration
	Schedule    *WeekSchedule
}

// SendAck is the decoded S frame acknowledging an s: command.
type SendAck struct {
	DutyCycle uint32
	Failed    bool
	FreeSlots uint32
}

// ParseHello decodes an H frame.
//
// Only fields 0 (serial), 1 (RF address, hex), 2 (firmware), 5 (duty cycle,
// hex), 7 (date) and 8 (time) are used.
func ParseHello(line string) (Hello, error) {
	body, err := framePayload(line, FrameHello)
	if err != nil {
		return Hello{}, err
	}

	fields := strings.Split(body, ",")
	if len(fields) < 9 { //nolint:mnd // H frames carry at least 9 fields
		return Hello{}, fmt.Errorf("%w: hello has %d fields", ErrMalformedFrame, len(fields))
	}

	rf, err := strconv.ParseUint(fields[1], 16, 32)
	if err != nil {
		return Hello{}, fmt.Errorf("%w: hello rf address %q", ErrMalformedFrame, fields[1])
	}
	duty, err := strconv.ParseUint(fields[5], 16, 32)
	if err != nil {
		return Hello{}, fmt.Errorf("%w: hello duty cycle %q", ErrMalformedFrame, fields[5])
	}

	return Hello{
		Serial:    fields[0],
		RFAddress: uint32(rf),   //nolint:gosec // G115: parsed with bitSize 32
		DutyCycle: uint32(duty), //nolint:gosec // G115: parsed with bitSize 32
		Firmware:  fields[2],
		Date:      fields[7],
		Time:      fields[8],
	}, nil
}

// ParseMetadata decodes an M frame into its room and device lists.
func ParseMetadata(line string) (Metadata, error) {
	body, err := framePayload(line, FrameMetadata)
	if err != nil {
		return Metadata{}, err
	}

	fields := strings.Split(body, ",")
	if len(fields) < 3 { //nolint:mnd // index,count,payload
		return Metadata{}, fmt.Errorf("%w: metadata has %d fields", ErrMalformedFrame, len(fields))
	}

	payload, err := DecodeBase64(fields[2])
	if err != nil {
		return Metadata{}, err
	}

	c := newCursor(payload)
	if err := c.need(3, "metadata header"); err != nil {
		return Metadata{}, err
	}
	c.skip(2)

	var meta Metadata
	roomCount := int(c.uint(1))
	for i := 0; i < roomCount; i++ {
		if err := c.need(2, "room header"); err != nil {
			return Metadata{}, err
		}
		id := uint8(c.uint(1)) //nolint:gosec // G115: single byte
		nameLen := int(c.uint(1))
		if err := c.need(nameLen+3, "room name and group address"); err != nil {
			return Metadata{}, err
		}
		name := string(c.bytes(nameLen))
		meta.Rooms = append(meta.Rooms, RoomMeta{ID: id, Name: name, GroupAddress: c.uint(3)})
	}

	if err := c.need(1, "device count"); err != nil {
		return Metadata{}, err
	}
	deviceCount := int(c.uint(1))
	for i := 0; i < deviceCount; i++ {
		if err := c.need(1+3+serialLength+1, "device header"); err != nil {
			return Metadata{}, err
		}
		d := DeviceMeta{
			Type:      DeviceType(c.uint(1)), //nolint:gosec // G115: single byte
			RFAddress: c.uint(3),
			Serial:    string(c.bytes(serialLength)),
		}
		nameLen := int(c.uint(1))
		if err := c.need(nameLen+1, "device name and room"); err != nil {
			return Metadata{}, err
		}
		d.Name = string(c.bytes(nameLen))
		d.RoomID = uint8(c.uint(1)) //nolint:gosec // G115: single byte
		meta.Devices = append(meta.Devices, d)
	}

	return meta, nil
}

// ParseLiveList decodes an L frame into device readings.
//
// Submessages that cannot be used are reported through the returned error
// (joined, one entry per problem) while the readings that did decode are
// still returned. A submessage too short to carry a flag word stops
// decoding, since the remaining framing cannot be trusted.
func ParseLiveList(line string) ([]DeviceReading, error) {
	body, err := framePayload(line, FrameLiveList)
	if err != nil {
		return nil, err
	}
	payload, err := DecodeBase64(body)
	if err != nil {
		return nil, err
	}

	var (
		readings []DeviceReading
		problems []error
	)

	c := newCursor(payload)
	for c.remaining() > 0 {
		start := c.off
		length := int(c.uint(1))
		if length <= liveMinLength {
			problems = append(problems, fmt.Errorf("%w: submessage at %d has length %d", ErrMalformedFrame, start, length))
			break
		}
		if c.remaining() < length {
			problems = append(problems, fmt.Errorf("%w: submessage at %d truncated (%d of %d bytes)", ErrMalformedFrame, start, c.remaining(), length))
			break
		}

		sub := newCursor(c.bytes(length))
		r := DeviceReading{RFAddress: sub.uint(3)}
		sub.skip(1)
		r.Flags = uint16(sub.uint(2)) //nolint:gosec // G115: two bytes

		if r.Flags&flagValid == 0 {
			problems = append(problems, fmt.Errorf("%w: %s flags 0x%04x", ErrInvalidReading, FormatRFAddress(r.RFAddress), r.Flags))
			continue
		}
		if length != liveRadiatorLength && length != liveWallLength {
			problems = append(problems, fmt.Errorf("%w: %s submessage length %d not handled", ErrUnsupportedDevice, FormatRFAddress(r.RFAddress), length))
			continue
		}

		r.ValvePosition = uint8(sub.uint(1)) //nolint:gosec // G115: single byte
		setByte := sub.uint(1)
		r.SetTemp = halfDegrees(setByte)
		untilWord := sub.uint(2)
		r.MinutesUntil = int(sub.uint(1)) * 30 //nolint:mnd // half-hour units

		switch length {
		case liveRadiatorLength:
			r.Source = DeviceRadiatorThermostat
			r.ActualTemp = float64(untilWord&0x1ff) / 10
		case liveWallLength:
			r.Source = DeviceWallThermostat
			r.DateUntil = uint16(untilWord) //nolint:gosec // G115: two bytes
			r.ActualTemp = float64((setByte&0x80)<<1|sub.uint(1)) / 10
		}
		readings = append(readings, r)
	}

	return readings, errors.Join(problems...)
}

// ParseDeviceConfig decodes a C frame.
//
// When the device type is not one with calibration data, or the payload is
// too short for it, the identity fields are still returned together with an
// error wrapping ErrUnsupportedDevice.
func ParseDeviceConfig(line string) (DeviceConfig, error) {
	body, err := framePayload(line, FrameConfig)
	if err != nil {
		return DeviceConfig{}, err
	}
	comma := strings.IndexByte(body, ',')
	if comma < 0 {
		return DeviceConfig{}, fmt.Errorf("%w: config without payload", ErrMalformedFrame)
	}

	payload, err := DecodeBase64(body[comma+1:])
	if err != nil {
		return DeviceConfig{}, err
	}

	c := newCursor(payload)
	if err := c.need(configHeaderLength, "config header"); err != nil {
		return DeviceConfig{}, err
	}
	c.skip(1)
	cfg := DeviceConfig{RFAddress: c.uint(3)}
	cfg.Type = DeviceType(c.uint(1)) //nolint:gosec // G115: single byte
	cfg.RoomID = uint8(c.uint(1))    //nolint:gosec // G115: single byte
	cfg.Firmware = uint8(c.uint(1))  //nolint:gosec // G115: single byte
	c.skip(1)
	cfg.Serial = string(c.bytes(serialLength))

	switch cfg.Type {
	case DeviceCube:
		return cfg, nil

	case DeviceRadiatorThermostat, DeviceRadiatorThermostatPlus:
		if err := c.need(5, "radiator calibration"); err != nil { //nolint:mnd // five setpoints
			return cfg, fmt.Errorf("%w: %w", ErrUnsupportedDevice, err)
		}
		cfg.Calibration = RadiatorCalibration{
			Comfort:    halfDegrees(c.uint(1)),
			Eco:        halfDegrees(c.uint(1)),
			Max:        halfDegrees(c.uint(1)),
			Min:        halfDegrees(c.uint(1)),
			TempOffset: halfDegrees(c.uint(1)) + 3.5, //nolint:mnd // offset bias
		}
		cfg.Schedule = scheduleAt(payload, radiatorScheduleOffset)
		return cfg, nil

	case DeviceWallThermostat:
		if err := c.need(4, "wall calibration"); err != nil { //nolint:mnd // four setpoints
			return cfg, fmt.Errorf("%w: %w", ErrUnsupportedDevice, err)
		}
		cfg.Calibration = WallCalibration{
			Comfort: halfDegrees(c.uint(1)),
			Eco:     halfDegrees(c.uint(1)),
			Max:     halfDegrees(c.uint(1)),
			Min:     halfDegrees(c.uint(1)),
		}
		cfg.Schedule = scheduleAt(payload, wallScheduleOffset)
		return cfg, nil

	default:
		return cfg, fmt.Errorf("%w: type %s", ErrUnsupportedDevice, cfg.Type)
	}
}

// ParseSendAck decodes an S frame.
func ParseSendAck(line string) (SendAck, error) {
	body, err := framePayload(line, FrameSendAck)
	if err != nil {
		return SendAck{}, err
	}
	fields := strings.Split(body, ",")
	if len(fields) != 3 { //nolint:mnd // duty,failed,slots
		return SendAck{}, fmt.Errorf("%w: send ack has %d fields", ErrMalformedFrame, len(fields))
	}

	var vals [3]uint64
	for i, f := range fields {
		v, err := strconv.ParseUint(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return SendAck{}, fmt.Errorf("%w: send ack field %d %q", ErrMalformedFrame, i, f)
		}
		vals[i] = v
	}

	return SendAck{
		DutyCycle: uint32(vals[0]), //nolint:gosec // G115: parsed with bitSize 32
		Failed:    vals[1] != 0,
		FreeSlots: uint32(vals[2]), //nolint:gosec // G115: parsed with bitSize 32
	}, nil
}

// ParseNTPAck decodes an F frame into the list of time servers the cube
// reports.
func ParseNTPAck(line string) ([]string, error) {
	body, err := framePayload(line, FrameNTPAck)
	if err != nil {
		return nil, err
	}
	var servers []string
	for _, s := range strings.Split(body, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return servers, nil
}

// DecodeSchedule decodes a 182-byte week programme.
func DecodeSchedule(b []byte) (WeekSchedule, error) {
	var ws WeekSchedule
	if len(b) < scheduleLength {
		return ws, fmt.Errorf("%w: schedule needs %d bytes, got %d", ErrMalformedFrame, scheduleLength, len(b))
	}
	c := newCursor(b[:scheduleLength])
	for day := range ws {
		for i := range ws[day] {
			lsb := c.uint(1)
			msb := c.uint(1)
			ws[day][i] = SchedulePoint{
				Temperature: float64(lsb>>1) / 2,
				EndMinute:   int((lsb&1)<<8+msb) * 5, //nolint:mnd // five-minute units
			}
		}
	}
	return ws, nil
}

func scheduleAt(payload []byte, offset int) *WeekSchedule {
	if len(payload) < offset+scheduleLength {
		return nil
	}
	ws, err := DecodeSchedule(payload[offset:])
	if err != nil {
		return nil
	}
	return &ws
}

// framePayload checks the "X:" prefix and returns the rest of the line.
func framePayload(line string, kind byte) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 2 || line[0] != kind || line[1] != ':' {
		return "", fmt.Errorf("%w: expected %c frame", ErrMalformedFrame, kind)
	}
	return line[2:], nil
}
