package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/canflash/usb2can/internal/ui"
	"github.com/canflash/usb2can/pkg/can"
	usb2canbus "github.com/canflash/usb2can/pkg/can/usb2can"
	"github.com/canflash/usb2can/pkg/transport"
	"github.com/canflash/usb2can/pkg/usb2can"
	"github.com/spf13/cobra"
)

func (a *app) portsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports and CAN interfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.Ports()
			if err != nil {
				return a.report(ui.StatusFromError("port listing", "", err), err)
			}
			for _, port := range ports {
				fmt.Fprintln(a.out, port)
			}
			fmt.Fprintf(a.out, "CAN interfaces : %s\n", strings.Join(can.Interfaces(), ", "))
			return a.report(ui.Status{Text: fmt.Sprintf("%d serial ports found", len(ports)), Severity: ui.Info}, nil)
		},
	}
}

func (a *app) configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Run the adapter configuration sequence",
		Long: `Put the adapter in configuration mode, program the CAN controller
registers and switch it to normal mode. The port is released afterwards,
the adapter stays configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, t, report, err := a.openConfigured()
			for _, step := range report.Steps {
				fmt.Fprintf(a.out, "%-24s %v\n", step.Step.Name, step.Ack)
			}
			if err != nil {
				return a.report(ui.StatusFromError("configuration", "", err), err)
			}
			closeTransport(t)
			text := fmt.Sprintf("adapter configured (%d/%d steps acknowledged)",
				report.Count(usb2can.AckAcknowledged), len(report.Steps))
			return a.report(ui.Status{Text: text, Severity: ui.Success}, nil)
		},
	}
}

func (a *app) sendCmd() *cobra.Command {
	var id, data string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one standard CAN frame",
		Long: `Send one standard CAN frame through an adapter set up with configure.
The configuration sequence is not repeated.`,
		Example: `  usb2can send --id 0x123 --data "DE AD BE EF"
  usb2can send --id 291 --data 0102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := parseFrame(id, data)
			if err == nil {
				// Rejected before the port is opened
				_, err = usb2can.EncodeFrame(frame)
			}
			if err != nil {
				return a.report(ui.StatusFromError("sending CAN message", "", err), err)
			}
			session, t, err := a.openAttached()
			if err == nil {
				err = session.Send(frame)
				closeTransport(t)
			}
			return a.report(ui.StatusFromError("sending CAN message", "CAN message sent : "+frame.String(), err), err)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "standard CAN identifier, decimal or 0x prefixed hex")
	cmd.Flags().StringVar(&data, "data", "", "up to 8 data bytes in hex")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (a *app) readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Ask the adapter for one received CAN frame",
		Long: `Issue a single READ_MESSAGE to an adapter set up with configure.
The configuration sequence is not repeated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, t, err := a.openAttached()
			if err != nil {
				return a.report(ui.StatusFromError("reading CAN message", "", err), err)
			}
			raw, err := session.Receive()
			closeTransport(t)
			if err != nil {
				return a.report(ui.StatusFromError("reading CAN message", "", err), err)
			}
			if len(raw) == 0 {
				return a.report(ui.Status{Text: "no CAN message available", Severity: ui.Info}, nil)
			}
			frame, err := usb2can.DecodeMessage(raw)
			if err != nil {
				text := fmt.Sprintf("CAN message read, undecoded response % X", raw)
				return a.report(ui.Status{Text: text, Severity: ui.Warning}, nil)
			}
			return a.report(ui.Status{Text: "CAN message read : " + frame.String(), Severity: ui.Success}, nil)
		},
	}
}

type framePrinter struct {
	a *app
}

func (p framePrinter) Handle(frame can.Frame) {
	fmt.Fprintf(p.a.out, "%s  %v\n", time.Now().Format("15:04:05.000"), frame)
}

func (a *app) monitorCmd() *cobra.Command {
	var canInterface, channel string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print received CAN frames until interrupted",
		Long: `Print every frame received on a CAN bus. By default the adapter is
polled, any registered interface (socketcan, virtual) can be used instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, err := a.openBus(canInterface, channel)
			if err == nil {
				err = bus.Subscribe(framePrinter{a})
			}
			if err != nil {
				if bus != nil {
					bus.Disconnect()
				}
				return a.report(ui.StatusFromError("monitoring", "", err), err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			<-ctx.Done()
			err = bus.Disconnect()
			return a.report(ui.StatusFromError("disconnecting", "monitor stopped", err), err)
		},
	}
	cmd.Flags().StringVar(&canInterface, "interface", "", "CAN interface (default from config, usb2can)")
	cmd.Flags().StringVar(&channel, "channel", "", "interface channel e.g. can0, localhost:18888")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this duration")
	return cmd
}

func (a *app) disconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Reset the adapter to boot mode and release it",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := a.openTransport()
			if err != nil {
				return a.report(ui.StatusFromError("disconnecting", "", err), err)
			}
			session, err := usb2can.NewSession(t, a.config.SessionConfig())
			if err != nil {
				closeTransport(t)
				return a.report(ui.StatusFromError("disconnecting", "", err), err)
			}
			err = session.Close()
			if err != nil {
				return a.report(ui.StatusFromError("disconnecting", "", err), err)
			}
			return a.report(ui.Status{Text: "adapter disconnected", Severity: ui.Info}, nil)
		},
	}
}

// Open and connect a CAN bus, the adapter itself unless another interface is selected
func (a *app) openBus(canInterface string, channel string) (can.Bus, error) {
	if canInterface == "" {
		canInterface = a.config.Bus.Interface
	}
	if channel == "" {
		channel = a.config.Bus.Channel
	}
	var bus can.Bus
	switch {
	case canInterface == "usb2can":
		t, err := a.openTransport()
		if err != nil {
			return nil, err
		}
		bus = usb2canbus.NewBus(t, a.config.SessionConfig(), a.config.Bus.PollInterval)
	default:
		var err error
		bus, err = can.NewBus(canInterface, channel, a.config.Bus.Bitrate)
		if err != nil {
			return nil, err
		}
	}
	if err := bus.Connect(); err != nil {
		return nil, err
	}
	return bus, nil
}

func parseFrame(id string, data string) (can.Frame, error) {
	identifier, err := strconv.ParseUint(strings.TrimSpace(id), 0, 32)
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w : identifier %q", usb2can.ErrInvalidFrame, id)
	}
	payload, err := parseHex(data)
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w : data %q", usb2can.ErrInvalidFrame, data)
	}
	frame, err := can.NewDataFrame(uint32(identifier), payload)
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w : %v", usb2can.ErrInvalidFrame, err)
	}
	return frame, nil
}

func parseHex(s string) ([]byte, error) {
	cleaned := strings.NewReplacer(" ", "", ":", "", "-", "").Replace(strings.TrimSpace(s))
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "0x"), "0X")
	return hex.DecodeString(cleaned)
}
