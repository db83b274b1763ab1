// Package notify delivers reminder emails and text messages.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Channel is the notification collaborator
type Channel interface {
	SendEmail(ctx context.Context, address, subject, htmlBody string) error
	SendSMS(ctx context.Context, phoneNumber, text string) error
}

// Sent is one message accepted by a RecordingChannel
type Sent struct {
	Kind    string
	To      string
	Subject string
	Body    string
}

// RecordingChannel keeps every message in memory.
// Used for dry runs and tests.
type RecordingChannel struct {
	mu       sync.Mutex
	sent     []Sent
	failures map[string]error
}

// NewRecordingChannel creates an empty RecordingChannel
func NewRecordingChannel() *RecordingChannel {
	return &RecordingChannel{failures: make(map[string]error)}
}

// FailFor makes every send to address fail with err
func (c *RecordingChannel) FailFor(address string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[address] = err
}

// Sent returns a copy of the accepted messages
func (c *RecordingChannel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

// SendEmail implements Channel
func (c *RecordingChannel) SendEmail(ctx context.Context, address, subject, htmlBody string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failures[address]; ok {
		return err
	}
	c.sent = append(c.sent, Sent{Kind: "email", To: address, Subject: subject, Body: htmlBody})
	return nil
}

// SendSMS implements Channel
func (c *RecordingChannel) SendSMS(ctx context.Context, phoneNumber, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failures[phoneNumber]; ok {
		return err
	}
	c.sent = append(c.sent, Sent{Kind: "sms", To: phoneNumber, Body: text})
	return nil
}

// LogChannel writes messages to the log instead of delivering them
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel creates a LogChannel
func NewLogChannel(logger *zap.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// SendEmail implements Channel
func (c *LogChannel) SendEmail(ctx context.Context, address, subject, htmlBody string) error {
	c.logger.Info("Email notification",
		zap.String("to", address),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)))
	return nil
}

// SendSMS implements Channel
func (c *LogChannel) SendSMS(ctx context.Context, phoneNumber, text string) error {
	c.logger.Info("SMS notification",
		zap.String("to", phoneNumber),
		zap.String("text", text))
	return nil
}
