package authz

// Recorder receives engine events. observability.Metrics implements it.
type Recorder interface {
	DiscoveryOutcome(strategy, outcome string)
	CacheLookup(hit bool)
	GuardDecision(decision string)
}

type nopRecorder struct{}

func (nopRecorder) DiscoveryOutcome(string, string) {}
func (nopRecorder) CacheLookup(bool)                {}
func (nopRecorder) GuardDecision(string)            {}
