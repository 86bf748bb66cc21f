package alerts

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

type fakeChannel struct {
	name string
	sent []*Alert
	err  error
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(alert *Alert) error {
	f.sent = append(f.sent, alert)
	return f.err
}

// newTestDispatcher wires a dispatcher around fakes with a controllable clock
func newTestDispatcher(channels ...Channel) (*Dispatcher, *time.Time) {
	clock := time.Date(2026, 3, 16, 11, 0, 0, 0, time.UTC) // a Monday
	d := &Dispatcher{
		logger:         arbor.NewLogger(),
		channels:       channels,
		throttleWindow: 30 * time.Minute,
		digestDay:      time.Sunday,
		now:            func() time.Time { return clock },
	}
	return d, &clock
}

func TestDispatcher_ModuleFailureThrottled(t *testing.T) {
	channel := &fakeChannel{name: "fake"}
	d, clock := newTestDispatcher(channel)

	d.SendModuleFailure("asx_shares", "exit status 1", 3)
	require.Len(t, channel.sent, 1)

	// Same (kind, module) inside the window: suppressed entirely.
	*clock = clock.Add(10 * time.Minute)
	d.SendModuleFailure("asx_shares", "exit status 1", 3)
	assert.Len(t, channel.sent, 1)

	// A different module is not affected.
	d.SendModuleFailure("asx_options", "timeout", 3)
	assert.Len(t, channel.sent, 2)

	// Past the window the same module alerts again.
	*clock = clock.Add(31 * time.Minute)
	d.SendModuleFailure("asx_shares", "exit status 1", 3)
	assert.Len(t, channel.sent, 3)
}

func TestDispatcher_SuppressedAlertNotRecorded(t *testing.T) {
	channel := &fakeChannel{name: "fake"}
	d, clock := newTestDispatcher(channel)

	d.SendModuleFailure("asx_shares", "boom", 3)
	require.Len(t, d.history, 1)

	*clock = clock.Add(time.Minute)
	d.SendModuleFailure("asx_shares", "boom", 3)
	assert.Len(t, d.history, 1, "a suppressed alert must not extend the throttle")
}

func TestDispatcher_ThrottleScansOnlyNewestEntries(t *testing.T) {
	channel := &fakeChannel{name: "fake"}
	d, clock := newTestDispatcher(channel)

	d.SendModuleFailure("asx_shares", "boom", 3)
	require.Len(t, channel.sent, 1)

	// Push the matching entry out of the 50-entry scan depth.
	for i := 0; i < 55; i++ {
		d.record(KindModuleFailure, fmt.Sprintf("other_%d", i), "x")
	}

	// Still inside the time window, but beyond the scan depth.
	*clock = clock.Add(time.Minute)
	d.SendModuleFailure("asx_shares", "boom", 3)
	assert.Len(t, channel.sent, 2)
}

func TestDispatcher_RecoveryBypassesThrottle(t *testing.T) {
	channel := &fakeChannel{name: "fake"}
	d, _ := newTestDispatcher(channel)

	d.SendRecovery("asx_shares")
	d.SendRecovery("asx_shares")
	assert.Len(t, channel.sent, 2)
}

func TestDispatcher_ChannelFailureIsolation(t *testing.T) {
	broken := &fakeChannel{name: "broken", err: errors.New("connection refused")}
	working := &fakeChannel{name: "working"}
	d, _ := newTestDispatcher(broken, working)

	d.SendModuleFailure("asx_shares", "boom", 3)

	assert.Len(t, broken.sent, 1)
	assert.Len(t, working.sent, 1, "one channel failing must not stop the others")
}

func TestDispatcher_HistoryCap(t *testing.T) {
	d, _ := newTestDispatcher(&fakeChannel{name: "fake"})

	for i := 0; i < 150; i++ {
		d.record(KindModuleFailure, fmt.Sprintf("module_%d", i), "x")
	}

	assert.Len(t, d.history, historyCap)
	assert.Equal(t, "module_50", d.history[0].module, "oldest entries are dropped first")
	assert.Equal(t, "module_149", d.history[len(d.history)-1].module)
}

func TestDispatcher_DigestOnFailures(t *testing.T) {
	channel := &fakeChannel{name: "fake"}
	d, _ := newTestDispatcher(channel) // clock is a Monday

	d.SendDigest(interfaces.DigestStats{
		Modules: []interfaces.DigestModule{
			{Name: "asx_shares", Success: true, Downloads: 12},
			{Name: "asx_options", Success: false},
		},
		SuccessfulModules: 1,
		FailedModules:     1,
	})

	require.Len(t, channel.sent, 1)
	assert.Equal(t, KindDigest, channel.sent[0].Kind)
	assert.Contains(t, channel.sent[0].Subject, "1/2")
}

func TestDispatcher_DigestSkippedWhenCleanOnWeekday(t *testing.T) {
	channel := &fakeChannel{name: "fake"}
	d, _ := newTestDispatcher(channel) // Monday, digest day Sunday

	d.SendDigest(interfaces.DigestStats{
		Modules:           []interfaces.DigestModule{{Name: "asx_shares", Success: true}},
		SuccessfulModules: 1,
	})

	assert.Empty(t, channel.sent)
}

func TestDispatcher_DigestAlwaysSentOnDigestDay(t *testing.T) {
	channel := &fakeChannel{name: "fake"}
	d, clock := newTestDispatcher(channel)
	*clock = time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC) // a Sunday

	d.SendDigest(interfaces.DigestStats{
		Modules:           []interfaces.DigestModule{{Name: "asx_shares", Success: true}},
		SuccessfulModules: 1,
	})

	assert.Len(t, channel.sent, 1)
}

func TestDispatcher_SendTestAlertReportsPerChannel(t *testing.T) {
	broken := &fakeChannel{name: "broken", err: errors.New("bad endpoint")}
	working := &fakeChannel{name: "working"}
	d, _ := newTestDispatcher(broken, working)

	results := d.SendTestAlert()

	require.Len(t, results, 2)
	assert.Error(t, results["broken"])
	assert.NoError(t, results["working"])
}

func TestNewEmailChannel_RejectsInvalidConfig(t *testing.T) {
	_, err := NewEmailChannel(arbor.NewLogger(), &common.EmailConfig{
		Host: "smtp.example.com",
		// missing port, credentials, addresses
	})
	assert.Error(t, err)

	_, err = NewEmailChannel(arbor.NewLogger(), &common.EmailConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "bot",
		Password: "secret",
		From:     "colligo@example.com",
		To:       []string{"ops@example.com"},
	})
	assert.NoError(t, err)
}

func TestNewWebhookChannel_RejectsInvalidURL(t *testing.T) {
	_, err := NewWebhookChannel(arbor.NewLogger(), &common.WebhookConfig{URL: "not a url"})
	assert.Error(t, err)
}

func TestWebhookChannel_Send(t *testing.T) {
	var received webhookPayloadCapture
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.method = r.Method
		received.contentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(arbor.NewLogger(), &common.WebhookConfig{
		URL:     server.URL,
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	err = channel.Send(&Alert{
		Kind:      KindModuleFailure,
		Module:    "asx_shares",
		Subject:   "Critical failure in module asx_shares",
		Severity:  SeverityCritical,
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, received.method)
	assert.Equal(t, "application/json", received.contentType)
}

func TestWebhookChannel_SendNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(arbor.NewLogger(), &common.WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	err = channel.Send(&Alert{Kind: KindTest, Timestamp: time.Now()})
	assert.Error(t, err)
}

type webhookPayloadCapture struct {
	method      string
	contentType string
}
