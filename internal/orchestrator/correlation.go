package orchestrator

import "time"

const (
	kindAudio   = "audio"
	kindHistory = "history"
)

// pendingRequest is one outstanding correlated host request.
type pendingRequest struct {
	id              string
	kind            string
	connID          int64
	clientRequestID string
	tabUUID         string
	path            string
	issuedAt        time.Time
}

// pendingTable maps generated request IDs to the connection awaiting the
// reply. It has no lock of its own: the orchestrator mutex guards it.
type pendingTable struct {
	kind    string
	entries map[string]pendingRequest
}

func newPendingTable(kind string) *pendingTable {
	return &pendingTable{kind: kind, entries: make(map[string]pendingRequest)}
}

func (t *pendingTable) add(p pendingRequest) {
	t.entries[p.id] = p
}

// resolve removes and returns the entry for id. A second resolve for the
// same id reports false.
func (t *pendingTable) resolve(id string) (pendingRequest, bool) {
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return p, ok
}

// dropOwner removes every entry issued by connID and returns how many.
func (t *pendingTable) dropOwner(connID int64) int {
	n := 0
	for id, p := range t.entries {
		if p.connID == connID {
			delete(t.entries, id)
			n++
		}
	}
	return n
}

// drain empties the table and returns the removed entries.
func (t *pendingTable) drain() []pendingRequest {
	out := make([]pendingRequest, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p)
	}
	t.entries = make(map[string]pendingRequest)
	return out
}

func (t *pendingTable) len() int { return len(t.entries) }
