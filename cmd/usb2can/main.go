package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/canflash/usb2can/internal/ui"
	_ "github.com/canflash/usb2can/pkg/can/socketcan"
	_ "github.com/canflash/usb2can/pkg/can/virtual"
	"github.com/canflash/usb2can/pkg/config"
	"github.com/canflash/usb2can/pkg/transport"
	"github.com/canflash/usb2can/pkg/usb2can"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "usb2can.ini"

// Command line state shared by all commands
type app struct {
	configPath string
	port       string
	baudRate   int
	dryRun     bool
	logLevel   string

	config *config.Config
	// In-memory adapter used with --dry-run
	memory *transport.Memory
	out    io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:   "usb2can",
		Short: "Configure a USB2CAN adapter, exchange CAN frames and upload firmware",
		Long: `usb2can drives a USB to CAN bridge adapter over a serial port.
It configures the adapter CAN controller, sends and reads standard CAN
frames and uploads firmware images to a CAN bootloader.

Settings are read from usb2can.ini when present, flags take precedence.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetOut(out)
	root.SetErr(out)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "configuration file (default usb2can.ini if present)")
	flags.StringVarP(&a.port, "port", "p", "", "serial port of the adapter e.g. /dev/ttyUSB0, COM3")
	flags.IntVarP(&a.baudRate, "baud", "b", transport.DefaultBaudRate, "serial baud rate")
	flags.BoolVar(&a.dryRun, "dry-run", false, "talk to an in-memory adapter and print the bytes that would be written")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level : debug, info, warn, error")

	root.AddCommand(
		a.portsCmd(),
		a.configureCmd(),
		a.sendCmd(),
		a.readCmd(),
		a.monitorCmd(),
		a.uploadCmd(),
		a.disconnectCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	path := a.configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}
	if path == "" {
		a.config = config.Default()
	} else if a.config, err = config.Load(path); err != nil {
		return fmt.Errorf("failed to load config %v : %w", path, err)
	}
	log.Debugf("[CLI] configuration loaded from %q", path)

	flags := cmd.Flags()
	if flags.Changed("port") {
		a.config.Adapter.Port = a.port
	}
	if flags.Changed("baud") {
		a.config.Adapter.Baud = a.baudRate
	}
	if a.dryRun {
		a.config.Timing.CommandDelay = 0
	}
	return a.config.Validate()
}

func (a *app) openTransport() (transport.Transport, error) {
	if a.dryRun {
		log.Info("[CLI] dry run, using an in-memory adapter")
		a.memory = transport.NewMemory(transport.EchoResponder)
		return a.memory, nil
	}
	if a.config.Adapter.Port == "" {
		return nil, transport.ErrNoPort
	}
	return transport.Open(a.config.Adapter.Port, a.config.Adapter.Baud, a.config.Adapter.ReadTimeout)
}

// Open the adapter and run the configuration sequence.
// The returned transport must be closed by the caller.
func (a *app) openConfigured() (*usb2can.Session, transport.Transport, usb2can.Report, error) {
	t, err := a.openTransport()
	if err != nil {
		return nil, nil, usb2can.Report{}, err
	}
	session, err := usb2can.NewSession(t, a.config.SessionConfig())
	if err != nil {
		t.Close()
		return nil, nil, usb2can.Report{}, err
	}
	report, err := session.Configure()
	if err != nil {
		session.Close()
		return nil, nil, report, err
	}
	return session, t, report, nil
}

// Open the adapter assuming a previous configure left it in normal mode.
// The returned transport must be closed by the caller.
func (a *app) openAttached() (*usb2can.Session, transport.Transport, error) {
	t, err := a.openTransport()
	if err != nil {
		return nil, nil, err
	}
	session, err := usb2can.NewSession(t, a.config.SessionConfig())
	if err == nil {
		err = session.Attach()
	}
	if err != nil {
		closeTransport(t)
		return nil, nil, err
	}
	return session, t, nil
}

// Print the outcome of a command, the error is returned for the exit code
func (a *app) report(status ui.Status, err error) error {
	if a.memory != nil {
		for _, w := range a.memory.Writes() {
			fmt.Fprintf(a.out, "> % X\n", w)
		}
	}
	fmt.Fprintln(a.out, status.Render())
	if err != nil {
		log.Debugf("[CLI] %v", err)
	}
	return err
}

func closeTransport(t transport.Transport) {
	if err := t.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		log.Warnf("[CLI] closing port : %v", err)
	}
}
