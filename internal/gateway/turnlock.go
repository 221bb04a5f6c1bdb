package gateway

import "sync"

// turnLocks serializes chat.send turns per conversation so a client firing
// two turns for the same conversation back to back can't interleave two
// RunTurn calls against the same history, mirroring the teacher's
// summarizeMu sync.Map of per-session mutexes in loop_history.go.
type turnLocks struct {
	mu sync.Map // conversationID string -> *sync.Mutex
}

func (t *turnLocks) lock(conversationID string) func() {
	muI, _ := t.mu.LoadOrStore(conversationID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
