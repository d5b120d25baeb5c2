package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanward/scanward/internal/config"
)

// fakeTransport records delivered messages.
type fakeTransport struct {
	messages []*Message
	err      error
}

func (f *fakeTransport) Send(_ context.Context, msg *Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func enabledConfig() config.SMTPConfig {
	return config.SMTPConfig{
		Host: "mail.internal",
		Port: 587,
		From: "scanward@internal",
		To:   []string{"secops@internal"},
	}
}

func TestScanCompleted(t *testing.T) {
	transport := &fakeTransport{}
	notifier := New(enabledConfig(), transport)

	ok := notifier.ScanCompleted(context.Background(), "web-1", "lynis", 64, 12, 3)
	assert.True(t, ok)
	require.Len(t, transport.messages, 1)

	msg := transport.messages[0]
	assert.Equal(t, "[scanward] Scan completed: lynis on web-1", msg.Subject)
	assert.Contains(t, msg.TextBody, "Scan completed successfully.")
	assert.Contains(t, msg.TextBody, "Target: web-1")
	assert.Contains(t, msg.TextBody, "Score: 64")
	assert.Contains(t, msg.HTMLBody, "<h2>Scan Completed</h2>")
	assert.Contains(t, msg.HTMLBody, "web-1")
	assert.Equal(t, []string{"secops@internal"}, msg.To)
}

func TestScanFailed(t *testing.T) {
	transport := &fakeTransport{}
	notifier := New(enabledConfig(), transport)

	ok := notifier.ScanFailed(context.Background(), "db-1", "openscap", "oscap not installed in db-1")
	assert.True(t, ok)
	require.Len(t, transport.messages, 1)

	msg := transport.messages[0]
	assert.Equal(t, "[scanward] Scan failed: openscap on db-1", msg.Subject)
	assert.Contains(t, msg.TextBody, "Error: oscap not installed in db-1")
	assert.Contains(t, msg.HTMLBody, "Scan Failed")
}

func TestScanFailedDefaultsErrorMessage(t *testing.T) {
	transport := &fakeTransport{}
	notifier := New(enabledConfig(), transport)

	notifier.ScanFailed(context.Background(), "db-1", "trivy", "")
	require.Len(t, transport.messages, 1)
	assert.Contains(t, transport.messages[0].TextBody, "Error: Unknown error")
}

func TestUnconfiguredIsSilentNoop(t *testing.T) {
	notifier := New(config.SMTPConfig{}, nil)

	ok := notifier.ScanCompleted(context.Background(), "web-1", "lynis", 64, 12, 3)
	assert.False(t, ok)
}

func TestTransportFailureIsSwallowed(t *testing.T) {
	transport := &fakeTransport{err: assert.AnError}
	notifier := New(enabledConfig(), transport)

	ok := notifier.ScanCompleted(context.Background(), "web-1", "lynis", 64, 12, 3)
	assert.False(t, ok)
}

func TestHTMLEscapesValues(t *testing.T) {
	transport := &fakeTransport{}
	notifier := New(enabledConfig(), transport)

	notifier.ScanFailed(context.Background(), "web<script>", "lynis", "<b>err</b>")
	require.Len(t, transport.messages, 1)

	body := transport.messages[0].HTMLBody
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "web&lt;script&gt;")
}

func TestSMTPTransportBuildsMultipartMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	transport := NewSMTPTransport(enabledConfig())
	transport.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := transport.Send(context.Background(), &Message{
		Subject:  "[scanward] Scan completed: lynis on web-1",
		TextBody: "plain part",
		HTMLBody: "<p>html part</p>",
		To:       []string{"secops@internal"},
	})
	require.NoError(t, err)

	assert.Equal(t, "mail.internal:587", gotAddr)
	assert.Equal(t, "scanward@internal", gotFrom)
	assert.Equal(t, []string{"secops@internal"}, gotTo)

	payload := string(gotMsg)
	assert.Contains(t, payload, "Subject: [scanward] Scan completed: lynis on web-1")
	assert.Contains(t, payload, "multipart/alternative")
	assert.Contains(t, payload, "text/plain; charset=utf-8")
	assert.Contains(t, payload, "text/html; charset=utf-8")
	assert.Contains(t, payload, "plain part")
	assert.Contains(t, payload, "<p>html part</p>")
	assert.True(t, strings.HasSuffix(payload, "--\r\n"))
}

func TestSMTPTransportCanceledContext(t *testing.T) {
	transport := NewSMTPTransport(enabledConfig())
	transport.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called with a canceled context")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := transport.Send(ctx, &Message{To: []string{"secops@internal"}})
	assert.ErrorIs(t, err, context.Canceled)
}
