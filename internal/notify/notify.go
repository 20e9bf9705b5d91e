// Package notify delivers verification messages to residents. Delivery is
// fire-and-forget from the pipeline's perspective: a failed send never rolls
// back challenge issuance, the resident just requests a resend.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Channel selects the delivery medium for a message.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message is a rendered notification ready for delivery.
type Message struct {
	Channel Channel
	Target  string
	Subject string
	Body    string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// OTPMessage renders the one-time-code notification for a channel.
func OTPMessage(channel Channel, target, code string) Message {
	return Message{
		Channel: channel,
		Target:  target,
		Subject: "Your resident portal verification code",
		Body:    fmt.Sprintf("Your verification code is %s. It expires in 5 minutes. If you did not request this, ignore this message.", code),
	}
}

// LinkMessage renders the verification-link notification.
func LinkMessage(target, link string) Message {
	return Message{
		Channel: ChannelEmail,
		Target:  target,
		Subject: "Verify your resident portal account",
		Body:    fmt.Sprintf("Click the link to verify your account: %s\nThe link expires in 10 minutes.", link),
	}
}

// LogSender writes messages to the structured log instead of delivering them.
// Dev and test default; production wires a real gateway behind Sender.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("notification send",
		"channel", string(msg.Channel),
		"target", msg.Target,
		"subject", msg.Subject,
	)
	return nil
}
