package cube

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
)

// Network constants of the cube protocol.
const (
	DiscoveryPort  = 23272
	SessionPort    = 62910
	MulticastGroup = "224.0.0.1"
)

const (
	probeLength = 19
	replyLength = 26
)

var (
	probePrefix = []byte("eQ3Max")
	replyPrefix = []byte("eQ3MaxAp")
)

// errNotReply marks datagrams on the discovery port that are not cube
// replies, such as our own looped-back probe.
var errNotReply = errors.New("cube: datagram is not a discovery reply")

// Announcement is a decoded discovery reply.
type Announcement struct {
	Address   string
	Serial    string
	RFAddress uint32
	Firmware  uint16
}

// BuildProbe returns the 19-byte discovery probe. A non-empty serial limits
// replies to the cube with that serial; otherwise every cube answers.
func BuildProbe(serial string) []byte {
	b := make([]byte, 0, probeLength)
	b = append(b, probePrefix...)
	b = append(b, '*', 0x00)
	filter := []byte(strings.Repeat("*", serialLength))
	copy(filter, serial)
	b = append(b, filter...)
	return append(b, 'I')
}

// ParseAnnouncement decodes a discovery reply received from addr.
func ParseAnnouncement(addr string, b []byte) (Announcement, error) {
	if len(b) != replyLength || !bytes.HasPrefix(b, replyPrefix) {
		return Announcement{}, fmt.Errorf("%w: %d bytes from %s", errNotReply, len(b), addr)
	}
	// Serial at 8..18, RF address at 21..24, firmware at 24..26.
	fw := uint16(ReadUint(b, 24, 2)) //nolint:gosec,mnd // two bytes
	return Announcement{
		Address:   addr,
		Serial:    string(b[8:18]),
		RFAddress: ReadUint(b, 21, 3), //nolint:mnd // reply layout
		Firmware:  fw,
	}, nil
}

// Discoverer sends discovery probes and receives cube replies.
type Discoverer interface {
	// Open binds the discovery socket.
	Open() error
	// Probe sends one discovery probe.
	Probe(serial string) error
	// Receive blocks until the next datagram and decodes it. It returns
	// net.ErrClosed once Close has been called.
	Receive() (Announcement, error)
	// Close releases the socket and unblocks Receive.
	Close() error
}

// UDPDiscoverer is the Discoverer used against real hardware: it binds the
// discovery port on all interfaces and multicasts probes to the cube group.
type UDPDiscoverer struct {
	group string
	port  int

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewUDPDiscoverer creates a discoverer for the given multicast group and
// port. Empty or zero values select the protocol defaults.
func NewUDPDiscoverer(group string, port int) *UDPDiscoverer {
	if group == "" {
		group = MulticastGroup
	}
	if port == 0 {
		port = DiscoveryPort
	}
	return &UDPDiscoverer{group: group, port: port}
}

// Open binds the discovery port.
func (d *UDPDiscoverer) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: d.port})
	if err != nil {
		return fmt.Errorf("listening on udp port %d: %w", d.port, err)
	}
	d.conn = conn
	return nil
}

// Probe multicasts a discovery probe.
func (d *UDPDiscoverer) Probe(serial string) error {
	conn := d.socket()
	if conn == nil {
		return net.ErrClosed
	}
	dst := &net.UDPAddr{IP: net.ParseIP(d.group), Port: d.port}
	if _, err := conn.WriteToUDP(BuildProbe(serial), dst); err != nil {
		return fmt.Errorf("sending probe to %s: %w", dst, err)
	}
	return nil
}

// Receive reads the next datagram from the discovery socket.
func (d *UDPDiscoverer) Receive() (Announcement, error) {
	conn := d.socket()
	if conn == nil {
		return Announcement{}, net.ErrClosed
	}
	buf := make([]byte, 64) //nolint:mnd // replies are 26 bytes
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		return Announcement{}, err
	}
	return ParseAnnouncement(from.IP.String(), buf[:n])
}

// Close closes the discovery socket.
func (d *UDPDiscoverer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *UDPDiscoverer) socket() *net.UDPConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}
