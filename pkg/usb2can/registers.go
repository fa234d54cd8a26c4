package usb2can

import "fmt"

// CAN controller registers reachable with WRITE_REG
type Register uint8

const (
	RegMode            Register = 0x00
	RegAcceptanceCode  Register = 0x04
	RegAcceptanceMask  Register = 0x05
	RegBusTiming0      Register = 0x06
	RegBusTiming1      Register = 0x07
	RegInterruptEnable Register = 0x0C
	RegOutputControl   Register = 0x1A
	RegClockDivider    Register = 0x1C
)

// Mode register values
const (
	ModeRun   byte = 0x00
	ModeReset byte = 0x01
)

// SET_LIMIT selectors
const (
	LimitTxCritical byte = 0x00
	LimitTxReady    byte = 0x01
)

// A register write is a WRITE_REG command with payload [address, value]
type RegisterWrite struct {
	Address Register
	Value   byte
}

func (r RegisterWrite) Command() Command {
	return NewCommand(OpWriteReg, byte(r.Address), r.Value)
}

func WriteRegister(address Register, value byte) Command {
	return RegisterWrite{Address: address, Value: value}.Command()
}

// One command of a fixed sequence
type Step struct {
	Name    string
	Command Command
}

func (s Step) String() string {
	return fmt.Sprintf("%s (%v)", s.Name, s.Command)
}

// ConfigurationSequence is the exact register programming sequence that
// puts the adapter in forwarding mode. Order and values are fixed by the
// adapter's register map.
func ConfigurationSequence() []Step {
	return []Step{
		{"enter config mode", NewCommand(OpConfigMode)},
		{"mode reset", WriteRegister(RegMode, ModeReset)},
		{"clock divider", WriteRegister(RegClockDivider, 0xC0)},
		{"acceptance code", WriteRegister(RegAcceptanceCode, 0x00)},
		{"acceptance mask", WriteRegister(RegAcceptanceMask, 0xFF)},
		{"output control", WriteRegister(RegOutputControl, 0xDA)},
		{"interrupt enable", WriteRegister(RegInterruptEnable, 0x03)},
		{"bus timing 0", WriteRegister(RegBusTiming0, 0x00)},
		{"bus timing 1", WriteRegister(RegBusTiming1, 0x1C)},
		{"tx critical limit", NewCommand(OpSetLimit, LimitTxCritical, 18)},
		{"tx ready limit", NewCommand(OpSetLimit, LimitTxReady, 17)},
		{"enter normal mode", NewCommand(OpNormalMode)},
		{"mode run", WriteRegister(RegMode, ModeRun)},
	}
}

// ResetSequence puts the adapter back in boot mode with the controller held in reset
func ResetSequence() []Step {
	return []Step{
		{"enter config mode", NewCommand(OpConfigMode)},
		{"enter boot mode", NewCommand(OpBootMode)},
		{"mode reset", WriteRegister(RegMode, ModeReset)},
	}
}
