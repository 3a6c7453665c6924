package models

import (
	"errors"
)

var (
	ErrNotFound = errors.New("not found")

	ErrNoTasks         = errors.New("no tasks to run")
	ErrExecutorMissing = errors.New("task executor is not initialized")
	ErrJobNotTerminal  = errors.New("job has not finished")
)
