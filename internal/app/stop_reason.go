package app

// StopReason is logged by Stop.
type StopReason string

const (
	StopSignal       StopReason = "signal"
	StopWorkloadDone StopReason = "workload_done"
	StopFatalError   StopReason = "fatal_error"
)
