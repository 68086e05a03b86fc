package announce

import "errors"

var (
	// ErrAlreadyStarted indicates the announcer is already running
	ErrAlreadyStarted = errors.New("announcer already started")

	// ErrNotStarted indicates the announcer has not been started
	ErrNotStarted = errors.New("announcer not started")
)
