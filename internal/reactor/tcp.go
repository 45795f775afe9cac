package reactor

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// TCP is the production Reactor. Each registered socket gets a pump
// goroutine that performs the blocking reads and forwards the results to the
// dispatch loop, which invokes callbacks one at a time. Per-socket delivery
// order matches network arrival order; no order is guaranteed across sockets.
type TCP struct {
	logger  *logrus.Logger
	bufSize int

	events chan func()
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	readers   map[net.Conn]ReadFunc
	acceptors map[net.Listener]AcceptFunc
}

func (r *TCP) RegisterReadable(conn net.Conn, fn ReadFunc) {
	r.mu.Lock()
	r.readers[conn] = fn
	r.mu.Unlock()

	go r.readPump(conn)
}

func (r *TCP) RegisterAcceptable(ln net.Listener, fn AcceptFunc) {
	r.mu.Lock()
	r.acceptors[ln] = fn
	r.mu.Unlock()

	go r.acceptPump(ln)
}

func (r *TCP) Deregister(conn net.Conn) {
	r.mu.Lock()
	delete(r.readers, conn)
	r.mu.Unlock()
}

func (r *TCP) DeregisterAcceptable(ln net.Listener) {
	r.mu.Lock()
	delete(r.acceptors, ln)
	r.mu.Unlock()
}

func (r *TCP) Submit(fn func()) {
	select {
	case r.events <- fn:
	case <-r.done:
	}
}

// Run dispatches callbacks until Stop is called. Exactly one goroutine may
// call Run.
func (r *TCP) Run() error {
	for {
		select {
		case fn := <-r.events:
			fn()
		case <-r.done:
			return nil
		}
	}
}

func (r *TCP) Stop() {
	r.once.Do(func() { close(r.done) })
}

// readPump performs the blocking reads for one connection and hands each
// chunk to the dispatch loop. It exits when the connection errors out
// (including close by the owning entity) or once it observes that the
// connection was deregistered.
func (r *TCP) readPump(conn net.Conn) {
	buf := make([]byte, r.bufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !r.deliver(conn, data) {
				return
			}
		}
		if err != nil {
			// EOF and "use of closed connection" both end up here; the
			// callback only ever observes a clean zero-length read.
			r.deliver(conn, nil)
			return
		}
	}
}

// deliver schedules a read callback, reporting whether the connection was
// still registered at delivery time.
func (r *TCP) deliver(conn net.Conn, data []byte) bool {
	r.mu.Lock()
	fn, ok := r.readers[conn]
	r.mu.Unlock()
	if !ok {
		return false
	}

	r.Submit(func() {
		// Re-check on the loop so a callback that ran between scheduling and
		// dispatch and deregistered the connection is honored.
		r.mu.Lock()
		_, live := r.readers[conn]
		r.mu.Unlock()
		if live {
			fn(data)
		}
	})
	return true
}

func (r *TCP) acceptPump(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			r.mu.Lock()
			_, live := r.acceptors[ln]
			r.mu.Unlock()
			if live {
				r.logger.Warnf("accept failed on %s: %v", ln.Addr(), err)
			}
			return
		}

		r.mu.Lock()
		fn, live := r.acceptors[ln]
		r.mu.Unlock()
		if !live {
			conn.Close()
			return
		}
		r.Submit(func() { fn(conn) })
	}
}
