package workflow

// NATS subjects and streams used by the autonomy scheduler and its channels.
const (
	// RecoveryTaskSubject receives recovery agent tasks.
	RecoveryTaskSubject = "agent.task.recovery"

	// ChatStream is the JetStream stream carrying inbound chat traffic.
	ChatStream = "CHAT"

	// ChatInboundSubject matches inbound chat interactions and messages.
	ChatInboundSubject = "chat.in.>"

	// ChatOutboundPrefix prefixes outbound chat subjects: chat.out.<channel>.
	ChatOutboundPrefix = "chat.out."
)
