package schema

// Event names on the server push channels.
//
// The per-run stream emits "run" (a single RunRecord) and "node_runs" (the
// full NodeRunRecord array). The per-workflow discovery stream emits "runs"
// (active RunRecords). The account-wide stream emits "status". "tick" is a
// no-change heartbeat, "error" carries a short reason string.
const (
	StreamEventRun      = "run"
	StreamEventNodeRuns = "node_runs"
	StreamEventRuns     = "runs"
	StreamEventStatus   = "status"
	StreamEventTick     = "tick"
	StreamEventError    = "error"
)

// GlobalStatus is the payload of the account-wide "status" stream event.
type GlobalStatus struct {
	HasRunning bool `json:"has_running"`
	HasQueued  bool `json:"has_queued"`
}
