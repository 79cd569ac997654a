package ingest

import "sync"

// peerLocks serializes work per peer id. Events for the same peer never
// overlap; events for distinct peers run concurrently.
type peerLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPeerLocks() *peerLocks {
	return &peerLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for a peer and returns its release func.
func (p *peerLocks) lock(peerID string) func() {
	p.mu.Lock()
	l, ok := p.locks[peerID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[peerID] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
