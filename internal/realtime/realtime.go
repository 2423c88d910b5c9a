package realtime

// SSEMessage is the unit of fan-out between processes and SSE clients.
// Channel is a job id, or "jobs" for the global feed.
type SSEMessage struct {
	Channel string `json:"channel"`
	Event   string `json:"event"`
	Data    any    `json:"data,omitempty"`
}

const (
	EventJobCreated    = "JobCreated"
	EventJobProgress   = "JobProgress"
	EventItemCompleted = "JobItemCompleted"
	EventItemFailed    = "JobItemFailed"
	EventJobDone       = "JobDone"
	EventJobCancelled  = "JobCancelled"

	// GlobalChannel carries every job event for dashboard list views.
	GlobalChannel = "jobs"
)
