package interfaces

// DigestModule is one module line in a session digest alert
type DigestModule struct {
	Name      string `json:"name"`
	Success   bool   `json:"success"`
	Downloads int    `json:"downloads"`
}

// DigestStats summarizes a session for the digest alert
type DigestStats struct {
	Modules           []DigestModule `json:"modules"`
	SuccessfulModules int            `json:"successful_modules"`
	FailedModules     int            `json:"failed_modules"`
}

// Notifier fans alerts out to the configured channels. Implementations never
// return errors for delivery failures — a dead alert channel must not be able
// to abort a session.
type Notifier interface {
	// SendModuleFailure reports a module that exhausted its retries
	SendModuleFailure(module, errMessage string, attempts int)

	// SendRecovery reports a module that succeeded after earlier failed attempts.
	// Recovery bypasses throttling.
	SendRecovery(module string)

	// SendDigest reports a session summary. Delivered when failures occurred
	// or unconditionally on the configured weekly day.
	SendDigest(stats DigestStats)
}
