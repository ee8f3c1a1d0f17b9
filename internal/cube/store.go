package cube

import (
	"slices"
	"sort"
	"time"
)

// RoomConfig is the configuration of one room as reported by the cube.
type RoomConfig struct {
	ID             uint8
	Name           string
	GroupAddress   uint32
	WallThermostat uint32
	// Radiators is kept sorted and free of duplicates.
	Radiators []uint32
}

// RoomState is the live telemetry of a room.
type RoomState struct {
	SetTemp    TimedTemperature
	ActualTemp TimedTemperature
	Mode       Mode
	Flags      map[uint32]uint16
	Valves     map[uint32]TimedValve
}

func newRoomState() *RoomState {
	return &RoomState{
		Flags:  make(map[uint32]uint16),
		Valves: make(map[uint32]TimedValve),
	}
}

// Related bundles the records reachable from an RF address. Any field may
// be nil.
type Related struct {
	Device *DeviceConfig
	Room   *RoomConfig
	State  *RoomState
}

// Store holds device configuration and live room state.
//
// Thread Safety: Store is not safe for concurrent use. The engine's run loop
// is its only owner.
type Store struct {
	devices  map[uint32]*DeviceConfig
	rooms    map[uint8]*RoomConfig
	states   map[uint8]*RoomState
	pending  map[uint8]ChangeFlags
	versions map[uint8]uint64
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		devices:  make(map[uint32]*DeviceConfig),
		rooms:    make(map[uint8]*RoomConfig),
		states:   make(map[uint8]*RoomState),
		pending:  make(map[uint8]ChangeFlags),
		versions: make(map[uint8]uint64),
		now:      time.Now,
	}
}

// UpsertRoomConfig records a room from an M frame. Device membership is
// left untouched.
func (s *Store) UpsertRoomConfig(m RoomMeta) {
	rc, ok := s.rooms[m.ID]
	if !ok {
		rc = &RoomConfig{ID: m.ID}
		s.rooms[m.ID] = rc
	}
	if rc.Name != m.Name || rc.GroupAddress != m.GroupAddress {
		rc.Name = m.Name
		rc.GroupAddress = m.GroupAddress
		s.mark(m.ID, ChangeConfig)
	}
}

// UpsertDeviceMeta records a device from an M frame and files it under its
// room. The first wall thermostat seen for a room keeps the slot.
func (s *Store) UpsertDeviceMeta(m DeviceMeta) {
	dc, ok := s.devices[m.RFAddress]
	if !ok {
		dc = &DeviceConfig{RFAddress: m.RFAddress}
		s.devices[m.RFAddress] = dc
	}
	dc.Type = m.Type
	dc.Serial = m.Serial
	dc.Name = m.Name
	dc.RoomID = m.RoomID

	rc, ok := s.rooms[m.RoomID]
	if !ok {
		return
	}
	switch {
	case m.Type == DeviceWallThermostat:
		if rc.WallThermostat == 0 {
			rc.WallThermostat = m.RFAddress
			s.mark(m.RoomID, ChangeContainedDevs)
		}
	case m.Type.IsRadiator():
		i, found := slices.BinarySearch(rc.Radiators, m.RFAddress)
		if !found {
			rc.Radiators = slices.Insert(rc.Radiators, i, m.RFAddress)
			s.mark(m.RoomID, ChangeContainedDevs)
		}
	}
}

// UpsertDeviceConfig merges a decoded C frame into the device record. The
// name from the M frame is preserved. A schedule from the room's wall
// thermostat, or from a radiator when the room has no wall thermostat,
// marks the room's configuration as changed.
func (s *Store) UpsertDeviceConfig(c DeviceConfig) {
	dc, ok := s.devices[c.RFAddress]
	if !ok {
		dc = &DeviceConfig{RFAddress: c.RFAddress}
		s.devices[c.RFAddress] = dc
	}
	name := dc.Name
	*dc = c
	if c.Name == "" {
		dc.Name = name
	}

	if c.Schedule == nil {
		return
	}
	if _, ok := s.rooms[c.RoomID]; ok && s.scheduleSource(c.RoomID) == c.RFAddress {
		s.mark(c.RoomID, ChangeConfig)
	}
}

// SetRoomSchedule overwrites one day of the programme held for every
// thermostat in the room, after a successful schedule-set command.
func (s *Store) SetRoomSchedule(roomID uint8, day Weekday, points []SchedulePoint) {
	rc, ok := s.rooms[roomID]
	if !ok || int(day) >= DaysPerWeek || len(points) == 0 {
		return
	}
	var ds DaySchedule
	copy(ds[:], points)
	for i := len(points); i < PointsPerDay; i++ {
		ds[i] = SchedulePoint{Temperature: ds[len(points)-1].Temperature, EndMinute: MinutesPerDay}
	}

	members := append([]uint32{rc.WallThermostat}, rc.Radiators...)
	for _, addr := range members {
		dc := s.devices[addr]
		if dc == nil || dc.Schedule == nil {
			continue
		}
		ws := *dc.Schedule
		ws[day] = ds
		dc.Schedule = &ws
	}
	s.mark(roomID, ChangeConfig)
}

// ApplyReading applies one live-list reading to the owning room and returns
// the fields it changed. Readings for unknown devices or rooms return
// ErrUnknownDevice without mutating anything.
func (s *Store) ApplyReading(r DeviceReading) (ChangeFlags, error) {
	dc, ok := s.devices[r.RFAddress]
	if !ok {
		return 0, ErrUnknownDevice
	}
	if _, ok := s.rooms[dc.RoomID]; !ok {
		return 0, ErrUnknownDevice
	}

	if !r.Source.IsRadiator() && r.Source != DeviceWallThermostat {
		return 0, nil
	}

	var changed ChangeFlags
	st := s.state(dc.RoomID)
	now := s.now()

	if r.ActualTemp != 0 || r.Source == DeviceWallThermostat {
		changed |= setTemperature(&st.ActualTemp, r.ActualTemp, now, ChangeActTemp)
	}
	changed |= setTemperature(&st.SetTemp, r.SetTemp, now, ChangeSetTemp)
	if m := r.Mode(); st.Mode != m {
		st.Mode = m
		changed |= ChangeMode
	}
	if old, ok := st.Flags[r.RFAddress]; !ok || old != r.Flags {
		st.Flags[r.RFAddress] = r.Flags
		changed |= ChangeContainedDevs
	}

	if r.Source.IsRadiator() {
		pos := int(r.ValvePosition)
		if old, ok := st.Valves[r.RFAddress]; !ok || old.Percent != pos {
			st.Valves[r.RFAddress] = TimedValve{Percent: pos, UpdatedAt: now}
			changed |= ChangeValvePos
		}
	}

	s.mark(dc.RoomID, changed)
	return changed, nil
}

// Lookup returns the device, room configuration and room state for an RF
// address.
func (s *Store) Lookup(addr uint32) Related {
	dc, ok := s.devices[addr]
	if !ok {
		return Related{}
	}
	return Related{Device: dc, Room: s.rooms[dc.RoomID], State: s.states[dc.RoomID]}
}

// RoomByName finds a room by its exact name.
func (s *Store) RoomByName(name string) (*RoomConfig, bool) {
	for _, rc := range s.rooms {
		if rc.Name == name {
			return rc, true
		}
	}
	return nil, false
}

// Room returns the configuration of a room by id.
func (s *Store) Room(id uint8) (*RoomConfig, bool) {
	rc, ok := s.rooms[id]
	return rc, ok
}

// State returns the live state of a room by id.
func (s *Store) State(id uint8) (*RoomState, bool) {
	st, ok := s.states[id]
	return st, ok
}

// RoomNames returns the names of all known rooms ordered by room id.
func (s *Store) RoomNames() []string {
	ids := make([]int, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, s.rooms[uint8(id)].Name) //nolint:gosec // G115: ids are room bytes
	}
	return names
}

// AggregateValvePosition returns the integer mean valve opening of a room's
// radiators and the most recent time any of them changed. A room without
// valve data yields the zero value.
func (s *Store) AggregateValvePosition(roomID uint8) TimedValve {
	st, ok := s.states[roomID]
	if !ok || len(st.Valves) == 0 {
		return TimedValve{}
	}
	var (
		sum    int
		latest time.Time
	)
	for _, v := range st.Valves {
		sum += v.Percent
		if v.UpdatedAt.After(latest) {
			latest = v.UpdatedAt
		}
	}
	return TimedValve{Percent: sum / len(st.Valves), UpdatedAt: latest}
}

// Pending returns the change flags accumulated for a room in the current
// batch.
func (s *Store) Pending(roomID uint8) ChangeFlags {
	return s.pending[roomID]
}

// TakeSnapshots builds one snapshot for every room with pending changes,
// bumps each room's version and clears the pending set. Snapshots are
// ordered by room id.
func (s *Store) TakeSnapshots() []RoomSnapshot {
	if len(s.pending) == 0 {
		return nil
	}
	ids := make([]int, 0, len(s.pending))
	for id, flags := range s.pending {
		if flags != 0 {
			ids = append(ids, int(id))
		}
	}
	sort.Ints(ids)

	snaps := make([]RoomSnapshot, 0, len(ids))
	for _, i := range ids {
		id := uint8(i) //nolint:gosec // G115: ids are room bytes
		rc, ok := s.rooms[id]
		if !ok {
			continue
		}
		st := s.state(id)
		s.versions[id]++
		snap := RoomSnapshot{
			ID:         id,
			Name:       rc.Name,
			SetTemp:    st.SetTemp,
			ActualTemp: st.ActualTemp,
			Mode:       st.Mode,
			Valve:      s.AggregateValvePosition(id),
			Version:    s.versions[id],
			Changes:    s.pending[id],
		}
		if dc := s.devices[s.scheduleSource(id)]; dc != nil && dc.Schedule != nil {
			snap.Schedule = *dc.Schedule
		}
		snaps = append(snaps, snap)
	}
	clear(s.pending)
	return snaps
}

// Devices returns copies of all known device records ordered by RF address.
func (s *Store) Devices() []DeviceConfig {
	out := make([]DeviceConfig, 0, len(s.devices))
	for _, dc := range s.devices {
		out = append(out, *dc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RFAddress < out[j].RFAddress })
	return out
}

// scheduleSource returns the RF address whose programme represents the
// room: the wall thermostat if it has one, otherwise the first radiator.
func (s *Store) scheduleSource(roomID uint8) uint32 {
	rc, ok := s.rooms[roomID]
	if !ok {
		return 0
	}
	if dc := s.devices[rc.WallThermostat]; rc.WallThermostat != 0 && dc != nil && dc.Schedule != nil {
		return rc.WallThermostat
	}
	for _, addr := range rc.Radiators {
		if dc := s.devices[addr]; dc != nil && dc.Schedule != nil {
			return addr
		}
	}
	return 0
}

func (s *Store) state(roomID uint8) *RoomState {
	st, ok := s.states[roomID]
	if !ok {
		st = newRoomState()
		s.states[roomID] = st
	}
	return st
}

func (s *Store) mark(roomID uint8, flags ChangeFlags) {
	if flags != 0 {
		s.pending[roomID] |= flags
	}
}

func setTemperature(t *TimedTemperature, v float64, now time.Time, flag ChangeFlags) ChangeFlags {
	if t.Celsius == v {
		return 0
	}
	t.Celsius = v
	t.UpdatedAt = now
	return flag
}
