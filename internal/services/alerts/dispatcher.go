package alerts

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

const (
	historyCap    = 100
	throttleDepth = 50
)

// historyEntry is one sent alert kept for throttling
type historyEntry struct {
	kind      string
	module    string
	message   string
	timestamp time.Time
}

// Dispatcher fans alerts out to every enabled channel. Channel failures are
// logged and isolated. Duplicate (kind, module) alerts inside the throttle
// window are suppressed entirely, recovery alerts excepted.
type Dispatcher struct {
	logger         arbor.ILogger
	channels       []Channel
	throttleWindow time.Duration
	digestDay      time.Weekday

	mu      sync.Mutex
	history []historyEntry

	// now is swappable for tests
	now func() time.Time
}

// NewDispatcher builds the dispatcher and its enabled channels from config.
// A channel whose config fails validation is a construction error, not a
// runtime surprise.
func NewDispatcher(logger arbor.ILogger, config *common.AlertsConfig) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:         logger,
		throttleWindow: config.ThrottleWindow,
		digestDay:      time.Sunday,
		now:            time.Now,
	}
	if d.throttleWindow <= 0 {
		d.throttleWindow = 30 * time.Minute
	}
	if day, ok := parseWeekday(config.DigestDay); ok {
		d.digestDay = day
	}

	if config.Email.Enabled {
		channel, err := NewEmailChannel(logger, &config.Email)
		if err != nil {
			return nil, fmt.Errorf("email channel: %w", err)
		}
		d.channels = append(d.channels, channel)
	}

	if config.Webhook.Enabled {
		channel, err := NewWebhookChannel(logger, &config.Webhook)
		if err != nil {
			return nil, fmt.Errorf("webhook channel: %w", err)
		}
		d.channels = append(d.channels, channel)
	}

	if config.Slack.Enabled {
		channel, err := NewSlackChannel(logger, &config.Slack)
		if err != nil {
			return nil, fmt.Errorf("slack channel: %w", err)
		}
		d.channels = append(d.channels, channel)
	}

	logger.Info().Int("channels", len(d.channels)).Msg("Alert dispatcher ready")
	return d, nil
}

var _ interfaces.Notifier = (*Dispatcher)(nil)

// SendModuleFailure notifies every channel that a module exhausted its
// retries. Throttled per (kind, module).
func (d *Dispatcher) SendModuleFailure(module, errMessage string, attempts int) {
	if !d.shouldSend(KindModuleFailure, module) {
		d.logger.Debug().Str("module", module).Msg("Module failure alert throttled")
		return
	}

	now := d.now()
	alert := &Alert{
		Kind:      KindModuleFailure,
		Module:    module,
		Subject:   fmt.Sprintf("Critical failure in module %s", module),
		Severity:  SeverityCritical,
		Attempts:  attempts,
		Error:     errMessage,
		Timestamp: now,
		Text: fmt.Sprintf("Critical failure in module %s\nError: %s\nAttempts: %d",
			module, errMessage, attempts),
		HTMLBody: fmt.Sprintf(`<h2>Critical failure detected</h2>
<p><strong>Module:</strong> %s</p>
<p><strong>Error:</strong> %s</p>
<p><strong>Attempts:</strong> %d</p>
<p><strong>Timestamp:</strong> %s</p>`,
			module, errMessage, attempts, now.Format("2006-01-02 15:04:05")),
	}

	d.dispatch(alert)
	d.record(KindModuleFailure, module, errMessage)
}

// SendRecovery notifies that a module works again after failing. Never
// throttled: recovery is rare and high-value.
func (d *Dispatcher) SendRecovery(module string) {
	now := d.now()
	alert := &Alert{
		Kind:      KindRecovery,
		Module:    module,
		Subject:   fmt.Sprintf("Recovery - %s", module),
		Severity:  SeverityInfo,
		Timestamp: now,
		Text:      fmt.Sprintf("Module %s is working again", module),
		HTMLBody: fmt.Sprintf(`<h2>System recovered</h2>
<p><strong>Module:</strong> %s</p>
<p><strong>Status:</strong> working normally</p>
<p><strong>Timestamp:</strong> %s</p>`,
			module, now.Format("2006-01-02 15:04:05")),
	}

	d.dispatch(alert)
	d.record(KindRecovery, module, "recovered")
}

// SendDigest sends the per-session summary. It goes out only when something
// failed, or unconditionally on the configured weekly day.
func (d *Dispatcher) SendDigest(stats interfaces.DigestStats) {
	if stats.FailedModules == 0 && d.now().Weekday() != d.digestDay {
		return
	}

	total := len(stats.Modules)
	now := d.now()

	var lines, items strings.Builder
	for _, m := range stats.Modules {
		mark := "FAIL"
		if m.Success {
			mark = "OK"
		}
		fmt.Fprintf(&lines, "[%s] %s: %d downloads\n", mark, m.Name, m.Downloads)
		fmt.Fprintf(&items, "<li>[%s] %s: %d downloads</li>", mark, m.Name, m.Downloads)
	}

	successRate := 0.0
	if total > 0 {
		successRate = float64(stats.SuccessfulModules) / float64(total) * 100
	}

	alert := &Alert{
		Kind:      KindDigest,
		Subject:   fmt.Sprintf("Daily summary - %d/%d modules successful", stats.SuccessfulModules, total),
		Severity:  SeverityInfo,
		Timestamp: now,
		Text: fmt.Sprintf("Daily summary %s\nSuccessful: %d/%d\nFailed: %d\n%s",
			now.Format("2006-01-02"), stats.SuccessfulModules, total, stats.FailedModules, lines.String()),
		HTMLBody: fmt.Sprintf(`<h2>Daily collection summary</h2>
<p><strong>Date:</strong> %s</p>
<p><strong>Successful modules:</strong> %d/%d</p>
<p><strong>Failed modules:</strong> %d</p>
<p><strong>Success rate:</strong> %.1f%%</p>
<h3>Per module:</h3>
<ul>%s</ul>`,
			now.Format("2006-01-02"), stats.SuccessfulModules, total,
			stats.FailedModules, successRate, items.String()),
	}

	d.dispatch(alert)
	d.record(KindDigest, "", alert.Subject)
}

// SendTestAlert exercises every configured channel and reports each result,
// for verifying channel configuration end to end.
func (d *Dispatcher) SendTestAlert() map[string]error {
	now := d.now()
	alert := &Alert{
		Kind:      KindTest,
		Subject:   "Alert test - system working",
		Severity:  SeverityInfo,
		Timestamp: now,
		Text:      "This is a test message from the alert system.",
		HTMLBody: fmt.Sprintf(`<h2>Alert test</h2>
<p>This is a test message from the alert system.</p>
<p><strong>Timestamp:</strong> %s</p>
<p>If you received this message, alerts are configured correctly.</p>`,
			now.Format("2006-01-02 15:04:05")),
	}

	results := make(map[string]error, len(d.channels))
	for _, channel := range d.channels {
		results[channel.Name()] = channel.Send(alert)
	}
	return results
}

// dispatch sends to all channels; one channel's failure never stops another
func (d *Dispatcher) dispatch(alert *Alert) {
	for _, channel := range d.channels {
		if err := channel.Send(alert); err != nil {
			d.logger.Warn().
				Err(err).
				Str("channel", channel.Name()).
				Str("kind", alert.Kind).
				Str("module", alert.Module).
				Msg("Alert channel send failed")
		}
	}
}

// shouldSend scans the newest throttleDepth history entries for a duplicate
// (kind, module) inside the throttle window.
func (d *Dispatcher) shouldSend(kind, module string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	start := len(d.history) - throttleDepth
	if start < 0 {
		start = 0
	}
	for _, entry := range d.history[start:] {
		if entry.kind == kind && entry.module == module &&
			now.Sub(entry.timestamp) < d.throttleWindow {
			return false
		}
	}
	return true
}

// record appends to the history ring, truncated to the newest historyCap
func (d *Dispatcher) record(kind, module, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, historyEntry{
		kind:      kind,
		module:    module,
		message:   message,
		timestamp: d.now(),
	})
	if len(d.history) > historyCap {
		d.history = d.history[len(d.history)-historyCap:]
	}
}

func parseWeekday(name string) (time.Weekday, bool) {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.EqualFold(day.String(), name) {
			return day, true
		}
	}
	return time.Sunday, false
}
