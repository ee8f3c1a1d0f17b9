package cube

import (
	"strings"
	"testing"
)

// Fixture rooms and devices shared by the decoder, store and engine tests.
const (
	testRoomID    uint8  = 3
	testGroupAddr uint32 = 0x0A0B0C
	testRadiator  uint32 = 0x010203
	testRadiator2 uint32 = 0x010204
	testWall      uint32 = 0x040506
)

func metadataPayload() []byte {
	b := []byte{0x00, 0x00, 0x01}
	b = append(b, testRoomID, byte(len("Living")))
	b = append(b, "Living"...)
	b = append(b, 0x0A, 0x0B, 0x0C)

	b = append(b, 0x03)
	b = appendDevice(b, DeviceRadiatorThermostat, testRadiator, "KEQ0000001", "Valve")
	b = appendDevice(b, DeviceRadiatorThermostatPlus, testRadiator2, "KEQ0000003", "Valve 2")
	b = appendDevice(b, DeviceWallThermostat, testWall, "KEQ0000002", "Wall")
	return b
}

func appendDevice(b []byte, typ DeviceType, addr uint32, serial, name string) []byte {
	b = append(b, byte(typ), byte(addr>>16), byte(addr>>8), byte(addr))
	b = append(b, serial...)
	b = append(b, byte(len(name)))
	b = append(b, name...)
	return append(b, testRoomID)
}

func metadataLine() string {
	return "M:00,01," + EncodeBase64(metadataPayload())
}

// radiatorSub returns a len=11 live-list submessage.
func radiatorSub(addr uint32, flags uint16, valve, setHalf byte, actualTenths uint16, until byte) []byte {
	return []byte{
		0x0B,
		byte(addr >> 16), byte(addr >> 8), byte(addr),
		0x00,
		byte(flags >> 8), byte(flags),
		valve,
		setHalf,
		byte(actualTenths >> 8), byte(actualTenths),
		until,
	}
}

// wallSub returns a len=12 live-list submessage.
func wallSub(addr uint32, flags uint16, setHalf byte, actualTenths uint16) []byte {
	b8 := setHalf & 0x7f
	if actualTenths&0x100 != 0 {
		b8 |= 0x80
	}
	return []byte{
		0x0C,
		byte(addr >> 16), byte(addr >> 8), byte(addr),
		0x00,
		byte(flags >> 8), byte(flags),
		0x00,
		b8,
		0x00, 0x00,
		0x00,
		byte(actualTenths),
	}
}

func liveLine(subs ...[]byte) string {
	var payload []byte
	for _, s := range subs {
		payload = append(payload, s...)
	}
	return "L:" + EncodeBase64(payload)
}

// radiatorConfigPayload returns a C frame payload with calibration and a
// schedule whose every day is 17 °C until 06:00 then 21 °C until midnight.
func radiatorConfigPayload(addr uint32) []byte {
	b := []byte{0xD2, byte(addr >> 16), byte(addr >> 8), byte(addr), byte(DeviceRadiatorThermostat), testRoomID, 0x10, 0x00}
	b = append(b, "KEQ0000001"...)
	b = append(b, 0x2B, 0x22, 0x3D, 0x09, 0x07)
	b = append(b, make([]byte, 6)...)
	for day := 0; day < DaysPerWeek; day++ {
		b = append(b, 0x44, 72)
		for i := 1; i < PointsPerDay; i++ {
			b = append(b, 0x55, 32)
		}
	}
	return b
}

func configLine(addr uint32, payload []byte) string {
	return "C:" + FormatRFAddress(addr) + "," + EncodeBase64(payload)
}

func loadedStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	meta, err := ParseMetadata(metadataLine())
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	for _, r := range meta.Rooms {
		s.UpsertRoomConfig(r)
	}
	for _, d := range meta.Devices {
		s.UpsertDeviceMeta(d)
	}
	s.TakeSnapshots()
	return s
}

func mustDecode(t *testing.T, line string) []byte {
	t.Helper()
	b, err := DecodeBase64(strings.TrimPrefix(strings.TrimRight(line, "\r\n"), "s:"))
	if err != nil {
		t.Fatalf("DecodeBase64(%q) error = %v", line, err)
	}
	return b
}
