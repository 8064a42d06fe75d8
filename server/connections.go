package server

import "sync"

// A concurrency-safe set of the connected clients of one Listener. Once
// drained it refuses new members so a connection accepted while the
// Listener is closing can't outlive it.
type clientList struct {
	clients map[*client]struct{}
	drained bool
	sync.RWMutex
}

func newClientList() *clientList {
	return &clientList{clients: make(map[*client]struct{})}
}

func (cl *clientList) add(c *client) bool {
	cl.Lock()
	defer cl.Unlock()

	if cl.drained {
		return false
	}
	cl.clients[c] = struct{}{}
	return true
}

// remove reports whether c was still a member.
func (cl *clientList) remove(c *client) bool {
	cl.Lock()
	defer cl.Unlock()

	if _, ok := cl.clients[c]; !ok {
		return false
	}
	delete(cl.clients, c)
	return true
}

// drain empties the list, returning its former members.
func (cl *clientList) drain() []*client {
	cl.Lock()
	defer cl.Unlock()

	cl.drained = true
	clients := make([]*client, 0, len(cl.clients))
	for c := range cl.clients {
		clients = append(clients, c)
	}
	cl.clients = make(map[*client]struct{})
	return clients
}

func (cl *clientList) len() int {
	cl.RLock()
	defer cl.RUnlock()
	return len(cl.clients)
}
