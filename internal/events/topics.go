package events

// Subject naming: <prefix>.<domain>.<name>
// Prefix is configured per deployment (e.g. "sentinel").

const (
	DomainDevice = "device"
	DomainAlert  = "alert"
	DomainPoll   = "poll"
)

const (
	DeviceStateUpdated = DomainDevice + ".state_updated"

	AlertRaised = DomainAlert + ".raised"

	PollCycleCompleted = DomainPoll + ".cycle_completed"
)
