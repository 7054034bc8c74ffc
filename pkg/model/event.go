package model

// JobEvent classifies notification hook invocations.
type JobEvent string

const (
	EventStarted  JobEvent = "STARTED"
	EventFinished JobEvent = "FINISHED"
	EventFailed   JobEvent = "FAILED"
)
