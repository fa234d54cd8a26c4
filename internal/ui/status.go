// Package ui renders operation outcomes and upload progress in the terminal.
package ui

import (
	"context"
	"errors"
	"fmt"

	"github.com/canflash/usb2can/pkg/bootloader"
	"github.com/canflash/usb2can/pkg/firmware"
	"github.com/canflash/usb2can/pkg/usb2can"
	"github.com/charmbracelet/lipgloss"
)

type Severity uint8

const (
	Info Severity = iota
	Success
	Warning
	Error
)

var severityDescription = map[Severity]string{
	Info:    "info",
	Success: "ok",
	Warning: "warning",
	Error:   "error",
}

func (s Severity) String() string {
	if desc, ok := severityDescription[s]; ok {
		return desc
	}
	return "unknown"
}

var severityStyle = map[Severity]lipgloss.Style{
	Info:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
}

var labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

// Status is the outcome of one user action
type Status struct {
	Text     string
	Severity Severity
}

func (s Status) String() string {
	return fmt.Sprintf("status [%v] %s", s.Severity, s.Text)
}

// Render the status line with its severity colour
func (s Status) Render() string {
	style, ok := severityStyle[s.Severity]
	if !ok {
		style = severityStyle[Info]
	}
	return labelStyle.Render("status:") + " " + style.Render(s.Text)
}

// StatusFromError converts the result of action into a status.
// Input mistakes are warnings, anything that failed on the wire is an error.
func StatusFromError(action string, success string, err error) Status {
	if err == nil {
		return Status{Text: success, Severity: Success}
	}
	text := fmt.Sprintf("%s failed : %v", action, err)
	var handshake *bootloader.HandshakeError
	switch {
	case errors.Is(err, context.Canceled):
		return Status{Text: action + " cancelled", Severity: Warning}
	case errors.As(err, &handshake):
		return Status{Text: text, Severity: Error}
	case usb2can.IsTransport(err):
		return Status{Text: text, Severity: Error}
	case isInputError(err):
		return Status{Text: text, Severity: Warning}
	}
	return Status{Text: text, Severity: Error}
}

func isInputError(err error) bool {
	if usb2can.IsPrecondition(err) {
		return true
	}
	for _, target := range []error{
		bootloader.ErrNoFirmware,
		bootloader.ErrUnknownProfile,
		bootloader.ErrInvalidIdentifier,
		bootloader.ErrUploadInProgress,
		firmware.ErrNoFirmware,
		firmware.ErrEmptyImage,
		firmware.ErrInvalidPassword,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
