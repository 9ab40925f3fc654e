package sync

import "github.com/tildaslashalef/ewsync/internal/sync"

type (
	// EventMsg carries one progress event from the engine
	EventMsg sync.Event

	// TickMsg refreshes the request countdowns
	TickMsg struct{}

	// SyncCompleteMsg is sent when every pass has returned
	SyncCompleteMsg struct {
		Results []*sync.Result
		// Errors holds accounts whose pass could not start
		Errors map[string]error
	}
)
