package dispatch

import "sync"

// pendingRequest is one in-flight request awaiting its Result.
type pendingRequest struct {
	op    string
	token string
}

// pendingSet tracks in-flight requests for a single connection. A connection
// may have several outstanding at once, each correlated independently; an
// entry lives exactly from accept to the moment the Result is sent.
type pendingSet struct {
	mu      sync.Mutex
	entries map[uint64]pendingRequest
	next    uint64
}

func newPendingSet() *pendingSet {
	return &pendingSet{entries: make(map[uint64]pendingRequest)}
}

// add records an accepted request and returns its handle.
func (p *pendingSet) add(op, token string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.entries[p.next] = pendingRequest{op: op, token: token}
	return p.next
}

// resolve removes the entry and returns the op and token the Result must
// echo. The second return is false for an unknown handle.
func (p *pendingSet) resolve(id uint64) (pendingRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	return req, ok
}

// outstanding returns the number of requests still awaiting a Result.
func (p *pendingSet) outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
