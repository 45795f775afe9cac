package reactor

import (
	"net"
	"sync"
)

// Fake is a deterministic Reactor for tests. Nothing runs until the test
// delivers it: reads are injected with Deliver, accepted connections with
// Accept, and Submit'd functions run when Flush is called. All callbacks run
// on the calling goroutine, mirroring the production loop's serialization.
type Fake struct {
	mu        sync.Mutex
	readers   map[net.Conn]ReadFunc
	acceptors map[net.Listener]AcceptFunc
	submitted []func()
	stopped   bool
}

func NewFake() *Fake {
	return &Fake{
		readers:   make(map[net.Conn]ReadFunc),
		acceptors: make(map[net.Listener]AcceptFunc),
	}
}

func (f *Fake) RegisterReadable(conn net.Conn, fn ReadFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readers[conn] = fn
}

func (f *Fake) RegisterAcceptable(ln net.Listener, fn AcceptFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acceptors[ln] = fn
}

func (f *Fake) Deregister(conn net.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.readers, conn)
}

func (f *Fake) DeregisterAcceptable(ln net.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.acceptors, ln)
}

func (f *Fake) Submit(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, fn)
}

func (f *Fake) Run() error { return nil }

func (f *Fake) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// Stopped reports whether Stop has been called.
func (f *Fake) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// Registered reports whether conn currently has a read callback.
func (f *Fake) Registered(conn net.Conn) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.readers[conn]
	return ok
}

// Deliver invokes conn's read callback with data, as the loop would.
func (f *Fake) Deliver(conn net.Conn, data []byte) bool {
	f.mu.Lock()
	fn, ok := f.readers[conn]
	f.mu.Unlock()
	if !ok {
		return false
	}
	fn(data)
	return true
}

// Accept invokes ln's accept callback with conn.
func (f *Fake) Accept(ln net.Listener, conn net.Conn) bool {
	f.mu.Lock()
	fn, ok := f.acceptors[ln]
	f.mu.Unlock()
	if !ok {
		return false
	}
	fn(conn)
	return true
}

// Flush runs every function scheduled with Submit, in order, and reports how
// many ran.
func (f *Fake) Flush() int {
	f.mu.Lock()
	fns := f.submitted
	f.submitted = nil
	f.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// PendingSubmits returns the number of functions waiting for Flush.
func (f *Fake) PendingSubmits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submitted)
}
