package alerts

import "time"

// Alert kinds recorded in the throttle history
const (
	KindModuleFailure = "module_failure"
	KindRecovery      = "recovery"
	KindDigest        = "daily_summary"
	KindTest          = "test"
)

// Severity drives channel presentation (Slack attachment color, webhook field)
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityInfo     Severity = "info"
)

// Alert is one notification fanned out to every enabled channel
type Alert struct {
	Kind      string
	Module    string
	Subject   string
	HTMLBody  string
	Text      string
	Severity  Severity
	Attempts  int
	Error     string
	Timestamp time.Time
}

// Channel is one delivery mechanism. Channels fail independently; a Send
// error is logged by the dispatcher and never stops the other channels.
type Channel interface {
	Name() string
	Send(alert *Alert) error
}
