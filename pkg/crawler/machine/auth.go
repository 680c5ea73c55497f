package machine

import (
	"context"

	"github.com/fourthplaces/seesaw/pkg/seesaw/core"
)

// AuthState tracks nothing persistent across calls: §4.C's Auth machine
// "converts request events into commands; fact events produce no commands"
// describes a stateless translation, so it is modeled as a non-durable
// machine.Machine rather than a PersistentMachine.
const (
	EventSendOTPRequested   = "auth.send_otp_requested.v1"
	EventVerifyOTPRequested = "auth.verify_otp_requested.v1"
)

// CommandSendOTP and CommandVerifyOTP are the commands the Auth machine
// emits for the two request events it handles.
const (
	CommandSendOTP   = "auth.send_otp.v1"
	CommandVerifyOTP = "auth.verify_otp.v1"
)

// SendOTPRequestedPayload carries the address to send a one-time code to.
type SendOTPRequestedPayload struct {
	Email string
}

// VerifyOTPRequestedPayload carries the address/code pair to verify.
type VerifyOTPRequestedPayload struct {
	Email string
	Code  string
}

// AuthMachine is the stateless request-event-to-command translator of
// §4.C. Any event Kind outside {SendOTPRequested, VerifyOTPRequested} is a
// fact event and produces no command.
type AuthMachine struct{}

func (AuthMachine) Decide(_ context.Context, event core.Event) (*core.Command, error) {
	switch event.Kind {
	case EventSendOTPRequested:
		cmd := core.NewCommand(CommandSendOTP, event.Payload, event.CorrelationId)
		return &cmd, nil
	case EventVerifyOTPRequested:
		cmd := core.NewCommand(CommandVerifyOTP, event.Payload, event.CorrelationId)
		return &cmd, nil
	default:
		return nil, nil
	}
}
