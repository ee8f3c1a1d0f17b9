package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nerrad567/maxcube-core/internal/audit"
	"github.com/nerrad567/maxcube-core/internal/cube"
)

// MaxTemperature is the exclusive upper bound accepted by the temp command.
// The cube encodes 31.5°C as its highest set point.
const MaxTemperature = 31.6

// DefaultCommandTimeout bounds each engine command issued from the console.
const DefaultCommandTimeout = 5 * time.Second

const prompt = "maxcube> "

const helpText = `commands:
    temp <room> <temperature>   # example: temp Living 17.5
    mode <room> <mode>          # auto | manual | boost | vacation
    status                      # show current rooms
    help                        # this text
    quit                        # stop the gateway
`

// Commander is the engine surface used by the console.
type Commander interface {
	ChangeTemp(ctx context.Context, room string, celsius float64) error
	ChangeMode(ctx context.Context, room string, mode cube.Mode) error
}

// RoomReader answers room lookups. *room.Cache satisfies it.
type RoomReader interface {
	Rooms() []cube.RoomSnapshot
	Room(name string) (cube.RoomSnapshot, error)
}

// Auditor records the outcome of console commands.
// *audit.Recorder satisfies it.
type Auditor interface {
	Record(source, user, room, command, value string, err error)
}

// Logger is the logging surface used by the console.
type Logger interface {
	Info(msg string, keysAndValues ...any)
}

// Options configures a Console.
type Options struct {
	In        io.Reader
	Out       io.Writer
	Commander Commander
	Rooms     RoomReader

	// Prompt prints a prompt before each line. Enable it for terminals only.
	Prompt bool

	CommandTimeout time.Duration
	Auditor        Auditor // optional
	Logger         Logger  // optional
}

// Console executes line commands against the engine.
type Console struct {
	in      io.Reader
	out     io.Writer
	cmd     Commander
	rooms   RoomReader
	prompt  bool
	timeout time.Duration
	auditor Auditor
	logger  Logger
}

// New creates a console.
func New(opts Options) (*Console, error) {
	if opts.In == nil || opts.Out == nil {
		return nil, errors.New("console: input and output are required")
	}
	if opts.Commander == nil {
		return nil, errors.New("console: commander is required")
	}
	if opts.Rooms == nil {
		return nil, errors.New("console: room reader is required")
	}
	c := &Console{
		in:      opts.In,
		out:     opts.Out,
		cmd:     opts.Commander,
		rooms:   opts.Rooms,
		prompt:  opts.Prompt,
		timeout: opts.CommandTimeout,
		auditor: opts.Auditor,
		logger:  opts.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultCommandTimeout
	}
	return c, nil
}

// Run reads commands until quit, end of input or ctx cancellation. It
// returns nil for quit and end of input, so callers can treat its return as
// a request to shut down.
func (c *Console) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	// The scanner cannot be interrupted; on cancellation it is left blocked
	// on the reader until the process exits.
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("console: reading input: %w", err)
					}
				default:
				}
				return nil
			}
			if c.Execute(ctx, line) {
				return nil
			}
			c.showPrompt()
		}
	}
}

// Execute runs one command line and reports whether it was quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		c.printf("bye\n")
		return true
	case "help":
		c.printf("%s", helpText)
	case "status":
		c.status()
	case "temp":
		c.temp(ctx, fields[1:])
	case "mode":
		c.mode(ctx, fields[1:])
	default:
		c.printf("unknown command %q, type help\n", fields[0])
	}
	return false
}

// splitArgs separates a trailing value from a room name of one or more words.
func splitArgs(args []string) (string, string, bool) {
	if len(args) < 2 {
		return "", "", false
	}
	return strings.Join(args[:len(args)-1], " "), args[len(args)-1], true
}

func (c *Console) temp(ctx context.Context, args []string) {
	name, value, ok := splitArgs(args)
	if !ok {
		c.printf("invalid syntax, usage: temp <room> <temperature>\n")
		return
	}
	snap, err := c.rooms.Room(name)
	if err != nil {
		c.printf("no room named %s\n", name)
		return
	}
	celsius, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.printf("not a temperature: %s\n", value)
		return
	}
	if celsius >= MaxTemperature {
		c.printf("temperature higher than 31.5°C: %s\n", value)
		return
	}

	c.run(ctx, snap.Name, "temp", value, func(ctx context.Context) error {
		return c.cmd.ChangeTemp(ctx, snap.Name, celsius)
	})
}

func (c *Console) mode(ctx context.Context, args []string) {
	name, value, ok := splitArgs(args)
	if !ok {
		c.printf("invalid syntax, usage: mode <room> auto|manual|boost|vacation\n")
		return
	}
	snap, err := c.rooms.Room(name)
	if err != nil {
		c.printf("no room named %s\n", name)
		return
	}
	mode, err := cube.ParseMode(value)
	if err != nil {
		c.printf("invalid mode %s, use auto|manual|boost|vacation\n", value)
		return
	}

	c.run(ctx, snap.Name, "mode", mode.String(), func(ctx context.Context) error {
		return c.cmd.ChangeMode(ctx, snap.Name, mode)
	})
}

func (c *Console) run(ctx context.Context, room, command, value string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(ctx)
	if c.auditor != nil {
		c.auditor.Record(audit.SourceConsole, "", room, command, value, err)
	}
	if err != nil {
		c.printf("%s %s failed: %v\n", command, room, err)
		return
	}
	if c.logger != nil {
		c.logger.Info("console command sent", "command", command, "room", room)
	}
	c.printf("%s %s: sent\n", command, room)
}

func (c *Console) status() {
	rooms := c.rooms.Rooms()
	if len(rooms) == 0 {
		c.printf("no rooms known yet\n")
		return
	}

	rows := make([][]string, 0, len(rooms))
	for _, r := range rooms {
		actual := "-"
		if !r.ActualTemp.UpdatedAt.IsZero() {
			actual = strconv.FormatFloat(r.ActualTemp.Celsius, 'f', 1, 64)
		}
		rows = append(rows, []string{
			r.Name,
			r.Mode.String(),
			strconv.FormatFloat(r.SetTemp.Celsius, 'f', 1, 64),
			actual,
			strconv.Itoa(r.Valve.Percent) + "%",
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ROOM", "MODE", "SET", "ACTUAL", "VALVE").
		Rows(rows...)
	c.printf("%s\n", t.Render())
}

func (c *Console) showPrompt() {
	if c.prompt {
		c.printf("%s", prompt)
	}
}

func (c *Console) printf(format string, args ...any) {
	//nolint:errcheck // Best-effort console output
	fmt.Fprintf(c.out, format, args...)
}
