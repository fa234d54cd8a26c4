package usb2can

// Outcome of one adapter command.
// The adapter's acknowledgement format is not documented : by default
// any response counts as acknowledged and silence as a timeout.
type Ack uint8

const (
	AckTimeout Ack = iota
	AckAcknowledged
	AckRejected
)

var ackDescription = map[Ack]string{
	AckTimeout:      "TIMEOUT",
	AckAcknowledged: "ACKNOWLEDGED",
	AckRejected:     "REJECTED",
}

func (a Ack) String() string {
	if desc, ok := ackDescription[a]; ok {
		return desc
	}
	return "UNKNOWN"
}

// AckFunc classifies the raw response to a command
type AckFunc func(cmd Command, response []byte) Ack

func DefaultAck(cmd Command, response []byte) Ack {
	if len(response) == 0 {
		return AckTimeout
	}
	return AckAcknowledged
}

// Result of one configuration step
type StepResult struct {
	Step     Step
	Ack      Ack
	Response []byte
}

// Per step outcome of a configuration or reset sequence
type Report struct {
	Steps []StepResult
}

// Acknowledged is true when every step was acknowledged
func (r Report) Acknowledged() bool {
	for _, step := range r.Steps {
		if step.Ack != AckAcknowledged {
			return false
		}
	}
	return len(r.Steps) > 0
}

// Count of steps with the given outcome
func (r Report) Count(ack Ack) int {
	count := 0
	for _, step := range r.Steps {
		if step.Ack == ack {
			count++
		}
	}
	return count
}
