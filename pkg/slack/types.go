package slack

// AlertInfo holds the data needed to build an ops notification: an
// orchestrator error transition or a scheduler task failure (spec §9:
// notify on orchestrator error transitions and scheduler task failures).
type AlertInfo struct {
	AlertID     string
	Title       string
	Severity    string
	Description string
	Subject     string // the instance_id or task_id the alert concerns
}
