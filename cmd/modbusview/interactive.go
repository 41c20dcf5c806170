package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	modbusview "github.com/edgeo-scada/modbus-view"
)

var errQuit = errors.New("quit")

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"i", "repl", "shell"},
	Short:   "Start an interactive register viewer",
	Long: `Start an interactive shell holding one connection and one register view.

Available commands:
  connect [host[:port]]   - Connect to server
  disconnect              - Disconnect from server
  unit <id>               - Set unit ID (applies on next connect)
  status                  - Show connection and view settings

  category <c>            - Set category (coils, inputs, holding)
  encoding <e>            - Set encoding (int16, int32, float32, float32-swapped, float64)
  address <n>             - Set start address
  count <n>               - Set number of units to read

  read                    - Read the view
  show                    - Print the last read
  value <row>             - Print one row

  output <format>         - Set output format (table/json/csv/yaml/raw)
  metrics                 - Show connection metrics

  help                    - Show help
  quit                    - Exit`,
	Example: `  modbusview interactive -H 192.168.1.100
  modbusview i --host 10.0.0.50 --port 5020`,
	RunE: runInteractive,
}

type interactiveSession struct {
	out     io.Writer
	manager *modbusview.ConnectionManager
	view    *modbusview.RegisterView

	target string
	unit   uint8
}

func newInteractiveSession(out io.Writer) *interactiveSession {
	s := &interactiveSession{
		out:     out,
		manager: newManager(),
		view:    modbusview.NewRegisterView(),
		target:  getAddress(),
		unit:    unitID,
	}
	s.view.Subscribe(modbusview.ObserverFuncs{
		AboutToChange: func(v *modbusview.RegisterView) {
			logger.Debug("view about to change", slog.Int("rows", v.RowCount()))
		},
		Changed: func(v *modbusview.RegisterView) {
			logger.Debug("view changed", slog.Int("rows", v.RowCount()))
		},
	})
	return s
}

func runInteractive(cmd *cobra.Command, args []string) error {
	session := newInteractiveSession(os.Stdout)
	defer session.manager.Close()

	fmt.Println(color(colorBold, "Modbus Register Viewer"))
	fmt.Println("Type 'help' for available commands, 'quit' to exit")
	fmt.Println()

	if cmd.Flags().Changed("host") || cmd.Flags().Changed("port") {
		if err := session.connect(session.target); err != nil {
			outputWarning("Auto-connect failed: %v", err)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(session.prompt())

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := session.execute(line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			outputError("%v", err)
		}
	}

	fmt.Println("\nGoodbye!")
	return nil
}

func (s *interactiveSession) prompt() string {
	status := color(colorRed, "disconnected")
	if s.manager.IsConnected() {
		status = color(colorGreen, s.manager.Address())
	}
	return fmt.Sprintf("modbus[%s]@%d %s> ", status, s.unit, s.view.RegisterCategory())
}

func (s *interactiveSession) execute(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "h", "?":
		s.showHelp()
		return nil
	case "connect", "conn", "c":
		addr := s.target
		if len(args) > 0 {
			addr = args[0]
		}
		return s.connect(addr)
	case "disconnect", "disc", "d":
		if err := s.manager.Disconnect(); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Disconnected")
		return nil
	case "status", "stat", "s":
		s.showStatus()
		return nil
	case "unit", "u":
		if len(args) < 1 {
			fmt.Fprintf(s.out, "Current unit ID: %d\n", s.unit)
			return nil
		}
		id, err := strconv.Atoi(args[0])
		if err != nil || id < 0 || id > 255 {
			return fmt.Errorf("invalid unit ID %q", args[0])
		}
		s.unit = uint8(id)
		if s.manager.UnitID() != modbusview.UnitID(s.unit) {
			fmt.Fprintf(s.out, "Unit ID set to %d (applies on next connect, which also resets metrics)\n", s.unit)
		} else {
			fmt.Fprintf(s.out, "Unit ID set to %d\n", s.unit)
		}
		return nil
	case "category", "cat":
		if len(args) < 1 {
			fmt.Fprintf(s.out, "Current category: %s\n", s.view.RegisterCategory())
			return nil
		}
		c, err := modbusview.ParseRegisterCategory(args[0])
		if err != nil {
			return err
		}
		s.view.SetRegisterCategory(c)
		fmt.Fprintf(s.out, "Category set to %s\n", c)
		return nil
	case "encoding", "enc", "e":
		if len(args) < 1 {
			fmt.Fprintf(s.out, "Current encoding: %s\n", s.view.OutputEncoding())
			return nil
		}
		e, err := modbusview.ParseOutputEncoding(args[0])
		if err != nil {
			return err
		}
		s.view.SetOutputEncoding(e)
		fmt.Fprintf(s.out, "Encoding set to %s\n", e)
		return nil
	case "address", "addr", "a":
		if len(args) < 1 {
			fmt.Fprintf(s.out, "Current start address: %d\n", s.view.StartAddress())
			return nil
		}
		n, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("invalid address %q", args[0])
		}
		s.view.SetStartAddress(uint16(n))
		fmt.Fprintf(s.out, "Start address set to %d\n", n)
		return nil
	case "count", "n":
		if len(args) < 1 {
			fmt.Fprintf(s.out, "Current read count: %d\n", s.view.ReadCount())
			return nil
		}
		n, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid count %q", args[0])
		}
		s.view.SetReadCount(uint16(n))
		fmt.Fprintf(s.out, "Read count set to %d\n", n)
		return nil
	case "read", "r":
		return s.read()
	case "show", "ls":
		return writeView(s.out, outputFmt, s.view)
	case "value", "v":
		return s.value(args)
	case "output", "out", "o":
		if len(args) < 1 {
			fmt.Fprintf(s.out, "Current output format: %s\n", outputFmt)
			return nil
		}
		if !validOutput(args[0]) {
			return fmt.Errorf("invalid format: %s", args[0])
		}
		outputFmt = args[0]
		fmt.Fprintf(s.out, "Output format set to %s\n", outputFmt)
		return nil
	case "metrics", "m":
		enc := yaml.NewEncoder(s.out)
		enc.SetIndent(2)
		if err := enc.Encode(s.manager.Metrics().Collect()); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

// splitTarget parses host, host:port, a bare IPv6 address or [ipv6]:port.
// A missing port selects the Modbus default.
func splitTarget(addr string) (string, int, error) {
	h, ps, err := net.SplitHostPort(addr)
	if err != nil {
		bare := strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
		if !strings.Contains(bare, ":") || net.ParseIP(bare) != nil {
			return bare, modbusview.DefaultPort, nil
		}
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	p, err := strconv.Atoi(ps)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", ps)
	}
	return h, p, nil
}

// connect accepts the forms splitTarget does and reconnects the session
// manager. A changed unit ID replaces the manager, which restarts metrics.
func (s *interactiveSession) connect(addr string) error {
	h, p, err := splitTarget(addr)
	if err != nil {
		return err
	}

	if s.manager.UnitID() != modbusview.UnitID(s.unit) {
		if err := s.manager.Close(); err != nil {
			logger.Warn("close previous connection", slog.String("addr", s.manager.Address()), slog.Any("error", err))
		}
		s.manager = modbusview.NewConnectionManager(
			modbusview.WithUnitID(modbusview.UnitID(s.unit)),
			modbusview.WithTimeout(timeout),
			modbusview.WithLogger(logger),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.manager.Connect(ctx, h, p); err != nil {
		return err
	}
	s.target = s.manager.Address()
	fmt.Fprintf(s.out, "%s Connected to %s\n", color(colorGreen, "OK"), s.target)
	return nil
}

func (s *interactiveSession) read() error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if _, err := s.view.Read(ctx, s.manager); err != nil {
		if errors.Is(err, modbusview.ErrNotConnected) {
			return fmt.Errorf("not connected (use 'connect' first)")
		}
		return err
	}
	return writeView(s.out, outputFmt, s.view)
}

func (s *interactiveSession) value(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: value <row>")
	}
	row, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid row %q", args[0])
	}
	c, err := s.view.ValueAt(row)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "row %d: %s (%s", row, c, c.Kind)
	if h := cellHex(c); h != "" {
		fmt.Fprintf(s.out, ", %s", h)
	}
	fmt.Fprintln(s.out, ")")
	return nil
}

func (s *interactiveSession) showStatus() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, color(colorBold, "Connection Status"))
	fmt.Fprintln(s.out, strings.Repeat("-", 30))
	if s.manager.IsConnected() {
		fmt.Fprintf(s.out, "Status:        %s\n", color(colorGreen, "Connected"))
		fmt.Fprintf(s.out, "Host:          %s\n", s.manager.Address())
	} else {
		fmt.Fprintf(s.out, "Status:        %s\n", color(colorRed, "Disconnected"))
	}
	fmt.Fprintf(s.out, "Unit ID:       %d\n", s.unit)
	fmt.Fprintf(s.out, "Timeout:       %s\n", timeout)
	fmt.Fprintf(s.out, "Output:        %s\n", outputFmt)
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, color(colorBold, "View"))
	fmt.Fprintln(s.out, strings.Repeat("-", 30))
	fmt.Fprintf(s.out, "Category:      %s\n", s.view.RegisterCategory())
	fmt.Fprintf(s.out, "Encoding:      %s\n", s.view.OutputEncoding())
	fmt.Fprintf(s.out, "Address:       %d\n", s.view.StartAddress())
	fmt.Fprintf(s.out, "Count:         %d\n", s.view.ReadCount())
	fmt.Fprintf(s.out, "Last read:     %d units, %d rows\n", s.view.ActualReadCount(), s.view.RowCount())
	fmt.Fprintln(s.out)
}

func (s *interactiveSession) showHelp() {
	help := `
Commands:
  Connection:
    connect [host[:port]]  Connect to Modbus server
    disconnect             Disconnect from server
    unit <id>              Set/show unit ID
    status                 Show connection and view settings

  View:
    category <c>           Set/show category (coils/inputs/holding)
    encoding <e>           Set/show encoding (int16/int32/float32/float32-swapped/float64)
    address <n>            Set/show start address
    count <n>              Set/show read count

  Data:
    read                   Read the view from the device
    show                   Print the last read
    value <row>            Print one row

  Settings:
    output <format>        Set output format (table/json/csv/yaml/raw)
    metrics                Show connection metrics

  General:
    help                   Show this help
    quit                   Exit interactive mode
`
	fmt.Fprintln(s.out, help)
}
