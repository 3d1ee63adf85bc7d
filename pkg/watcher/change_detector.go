package watcher

// ReloadPlan describes what a seed file change requires
type ReloadPlan struct {
	Reload       bool
	Reason       string
	ChangedFiles []string
}

// AnalyzeChanges decides whether a debounced event should trigger a
// re-import. A removed seed file keeps the stored rules; rules are only ever
// removed through the API.
func AnalyzeChanges(event ChangeEvent) ReloadPlan {
	plan := ReloadPlan{ChangedFiles: event.Paths}

	switch event.Type {
	case ChangeTypeWritten:
		plan.Reload = true
		plan.Reason = "seed file changed"
	case ChangeTypeRemoved:
		plan.Reason = "seed file removed, keeping stored rules"
	default:
		plan.Reason = "unknown change " + event.Type.String()
	}
	return plan
}
