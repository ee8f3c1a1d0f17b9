package room

import (
	"sort"
	"strings"
	"sync"

	"github.com/nerrad567/maxcube-core/internal/cube"
)

// Cache holds the latest snapshot of every room and the connected cube's
// identity. It implements cube.EventHandler and is fed by the engine.
type Cache struct {
	mu      sync.RWMutex
	rooms   map[uint8]cube.RoomSnapshot
	info    cube.DeviceInfo
	hasInfo bool
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{rooms: make(map[uint8]cube.RoomSnapshot)}
}

// OnDeviceInfo implements cube.EventHandler.
func (c *Cache) OnDeviceInfo(info cube.DeviceInfo) {
	c.mu.Lock()
	c.info = info
	c.hasInfo = true
	c.mu.Unlock()
}

// OnRoomChanged implements cube.EventHandler. Older versions of a room
// never replace newer ones.
func (c *Cache) OnRoomChanged(snap cube.RoomSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.rooms[snap.ID]; ok && cur.Version > snap.Version {
		return
	}
	c.rooms[snap.ID] = snap
}

// Info returns the cube identity once a session has reported it.
func (c *Cache) Info() (cube.DeviceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info, c.hasInfo
}

// Rooms returns every cached room sorted by name.
func (c *Cache) Rooms() []cube.RoomSnapshot {
	c.mu.RLock()
	out := make([]cube.RoomSnapshot, 0, len(c.rooms))
	for _, r := range c.rooms {
		out = append(out, r)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Room returns the room with the given name. An exact match wins over a
// case-insensitive one.
func (c *Cache) Room(name string) (cube.RoomSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var fold *cube.RoomSnapshot
	for _, r := range c.rooms {
		if r.Name == name {
			return r, nil
		}
		if fold == nil && strings.EqualFold(r.Name, name) {
			r := r
			fold = &r
		}
	}
	if fold != nil {
		return *fold, nil
	}
	return cube.RoomSnapshot{}, ErrRoomNotFound
}

// Names returns the room names sorted alphabetically.
func (c *Cache) Names() []string {
	rooms := c.Rooms()
	names := make([]string, len(rooms))
	for i, r := range rooms {
		names[i] = r.Name
	}
	return names
}
