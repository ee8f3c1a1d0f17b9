package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/maxcube-core/internal/cube"
	"github.com/nerrad567/maxcube-core/internal/room"
)

type mockCommander struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (m *mockCommander) ChangeTemp(_ context.Context, room string, celsius float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("temp %s %.1f", room, celsius))
	return m.err
}

func (m *mockCommander) ChangeMode(_ context.Context, room string, mode cube.Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("mode %s %s", room, mode))
	return m.err
}

func (m *mockCommander) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func testRooms() *room.Cache {
	now := time.Now()
	cache := room.NewCache()
	cache.OnRoomChanged(cube.RoomSnapshot{
		ID:         1,
		Name:       "Living Room",
		SetTemp:    cube.TimedTemperature{Celsius: 21.5, UpdatedAt: now},
		ActualTemp: cube.TimedTemperature{Celsius: 20.3, UpdatedAt: now},
		Mode:       cube.ModeAuto,
		Valve:      cube.TimedValve{Percent: 40, UpdatedAt: now},
		Version:    1,
	})
	cache.OnRoomChanged(cube.RoomSnapshot{
		ID:      2,
		Name:    "Bath",
		SetTemp: cube.TimedTemperature{Celsius: 23, UpdatedAt: now},
		Mode:    cube.ModeManual,
		Version: 1,
	})
	return cache
}

func newTestConsole(t *testing.T, input string) (*Console, *mockCommander, *bytes.Buffer) {
	t.Helper()
	cmd := &mockCommander{}
	out := &bytes.Buffer{}
	c, err := New(Options{
		In:        strings.NewReader(input),
		Out:       out,
		Commander: cmd,
		Rooms:     testRooms(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c, cmd, out
}

func TestNew_Validation(t *testing.T) {
	cache := room.NewCache()
	tests := []struct {
		name string
		opts Options
	}{
		{"no input", Options{Out: io.Discard, Commander: &mockCommander{}, Rooms: cache}},
		{"no output", Options{In: strings.NewReader(""), Commander: &mockCommander{}, Rooms: cache}},
		{"no commander", Options{In: strings.NewReader(""), Out: io.Discard, Rooms: cache}},
		{"no rooms", Options{In: strings.NewReader(""), Out: io.Discard, Commander: &mockCommander{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestTemp(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    string
		wantCmd string
	}{
		{"valid", "temp Bath 19.5", "temp Bath: sent", "temp Bath 19.5"},
		{"room with spaces", "temp Living Room 22", "temp Living Room: sent", "temp Living Room 22.0"},
		{"case folded room", "temp bath 18", "temp Bath: sent", "temp Bath 18.0"},
		{"upper bound accepted", "temp Bath 31.5", "sent", "temp Bath 31.5"},
		{"too hot", "temp Bath 31.6", "higher than 31.5", ""},
		{"unknown room", "temp Attic 20", "no room named Attic", ""},
		{"not a number", "temp Bath warm", "not a temperature: warm", ""},
		{"missing value", "temp Bath", "invalid syntax", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, cmd, out := newTestConsole(t, "")
			if quit := c.Execute(context.Background(), tt.line); quit {
				t.Fatal("Execute() reported quit")
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
			calls := cmd.Calls()
			if tt.wantCmd == "" {
				if len(calls) != 0 {
					t.Errorf("calls = %v, want none", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0] != tt.wantCmd {
				t.Errorf("calls = %v, want [%s]", calls, tt.wantCmd)
			}
		})
	}
}

func TestMode(t *testing.T) {
	tests := []struct {
		line    string
		wantCmd string
	}{
		{"mode Bath auto", "mode Bath AUTO"},
		{"mode Living Room MANUAL", "mode Living Room MANUAL"},
		{"mode Bath boost", "mode Bath BOOST"},
		{"mode Bath vacation", "mode Bath VACATION"},
		{"mode Bath party", ""},
		{"mode Attic auto", ""},
		{"mode", ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			c, cmd, _ := newTestConsole(t, "")
			c.Execute(context.Background(), tt.line)
			calls := cmd.Calls()
			if tt.wantCmd == "" {
				if len(calls) != 0 {
					t.Errorf("calls = %v, want none", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0] != tt.wantCmd {
				t.Errorf("calls = %v, want [%s]", calls, tt.wantCmd)
			}
		})
	}
}

func TestCommandError(t *testing.T) {
	c, cmd, out := newTestConsole(t, "")
	cmd.err = cube.ErrNotConnected

	c.Execute(context.Background(), "temp Bath 20")
	if !strings.Contains(out.String(), "failed") || !strings.Contains(out.String(), cube.ErrNotConnected.Error()) {
		t.Errorf("output = %q", out.String())
	}
}

func TestStatus(t *testing.T) {
	c, _, out := newTestConsole(t, "")
	c.Execute(context.Background(), "status")

	got := out.String()
	for _, want := range []string{"ROOM", "Living Room", "Bath", "AUTO", "MANUAL", "21.5", "20.3", "40%"} {
		if !strings.Contains(got, want) {
			t.Errorf("status output missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "Bath") > strings.Index(got, "Living Room") {
		t.Error("rooms not sorted by name")
	}
}

func TestStatus_NoRooms(t *testing.T) {
	out := &bytes.Buffer{}
	c, err := New(Options{In: strings.NewReader(""), Out: out, Commander: &mockCommander{}, Rooms: room.NewCache()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	c.Execute(context.Background(), "status")
	if !strings.Contains(out.String(), "no rooms known yet") {
		t.Errorf("output = %q", out.String())
	}
}

func TestHelpAndUnknown(t *testing.T) {
	c, _, out := newTestConsole(t, "")
	c.Execute(context.Background(), "help")
	if !strings.Contains(out.String(), "temp <room> <temperature>") {
		t.Errorf("help output = %q", out.String())
	}

	out.Reset()
	c.Execute(context.Background(), "frobnicate")
	if !strings.Contains(out.String(), `unknown command "frobnicate"`) {
		t.Errorf("unknown output = %q", out.String())
	}

	out.Reset()
	if c.Execute(context.Background(), "   ") {
		t.Error("blank line reported quit")
	}
	if out.Len() != 0 {
		t.Errorf("blank line output = %q", out.String())
	}
}

func TestRun_StopsOnQuit(t *testing.T) {
	c, cmd, out := newTestConsole(t, "temp Bath 20\nquit\ntemp Bath 21\n")

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if calls := cmd.Calls(); len(calls) != 1 {
		t.Errorf("calls = %v, want only the command before quit", calls)
	}
	if !strings.Contains(out.String(), "bye") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_EndOfInput(t *testing.T) {
	c, cmd, _ := newTestConsole(t, "mode Bath auto\n")
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(cmd.Calls()) != 1 {
		t.Errorf("calls = %v", cmd.Calls())
	}
}

func TestRun_Prompt(t *testing.T) {
	out := &bytes.Buffer{}
	c, err := New(Options{
		In:        strings.NewReader("help\n"),
		Out:       out,
		Commander: &mockCommander{},
		Rooms:     testRooms(),
		Prompt:    true,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if n := strings.Count(out.String(), prompt); n != 2 {
		t.Errorf("prompt printed %d times, want 2", n)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	c, err := New(Options{In: pr, Out: io.Discard, Commander: &mockCommander{}, Rooms: testRooms()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
}

func TestRun_ReadError(t *testing.T) {
	pr, pw := io.Pipe()
	pw.CloseWithError(errors.New("tty gone"))

	c, err := New(Options{In: pr, Out: io.Discard, Commander: &mockCommander{}, Rooms: testRooms()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := c.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "tty gone") {
		t.Errorf("Run() error = %v", err)
	}
}

type mockAuditor struct {
	mu      sync.Mutex
	entries []string
}

func (a *mockAuditor) Record(source, _, room, command, value string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, fmt.Sprintf("%s %s %s %s %t", source, room, command, value, err == nil))
}

func TestCommands_Audited(t *testing.T) {
	auditor := &mockAuditor{}
	cmd := &mockCommander{}
	c, err := New(Options{
		In:        strings.NewReader(""),
		Out:       io.Discard,
		Commander: cmd,
		Rooms:     testRooms(),
		Auditor:   auditor,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx := context.Background()
	c.Execute(ctx, "temp Bath 19.5")
	c.Execute(ctx, "mode living room boost")
	c.Execute(ctx, "temp Bath 40") // rejected locally
	cmd.mu.Lock()
	cmd.err = errors.New("cube not connected")
	cmd.mu.Unlock()
	c.Execute(ctx, "mode Bath auto")

	want := []string{
		"console Bath temp 19.5 true",
		"console Living Room mode BOOST true",
		"console Bath mode AUTO false",
	}
	auditor.mu.Lock()
	defer auditor.mu.Unlock()
	if len(auditor.entries) != len(want) {
		t.Fatalf("entries = %v, want %v", auditor.entries, want)
	}
	for i := range want {
		if auditor.entries[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, auditor.entries[i], want[i])
		}
	}
}
