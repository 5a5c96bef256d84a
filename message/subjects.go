package message

// NATS subjects connecting the pipeline components.
const (
	// SubjectSamplePrefix + leg carries normalized SensorSamples from
	// transport adapters ("socks.samples.L", "socks.samples.R").
	SubjectSamplePrefix = "socks.samples."

	// SubjectFrames carries MergedFrames from the stream merger.
	SubjectFrames = "socks.frames"

	// SubjectActivity carries ClassificationResults.
	SubjectActivity = "socks.activity"

	// SubjectSyncState carries SyncState updates from the coordinator.
	SubjectSyncState = "socks.sync.state"

	// SubjectControl carries operator Commands to transport adapters.
	SubjectControl = "socks.control.command"

	// SubjectStatus carries free-form component status events.
	SubjectStatus = "socks.status"
)

// SampleSubject returns the per-leg sample subject.
func SampleSubject(leg Leg) string {
	return SubjectSamplePrefix + string(leg)
}
