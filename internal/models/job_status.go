package models

/*
Job status constants for use throughout the codebase.
Centralizing these avoids magic strings and improves maintainability.

A job that completes with some failed tasks is still Completed; Failed means
the job could not even start (e.g. the collaborator failed to initialize).
*/
const (
	JobStatusCreated   = "created"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)
