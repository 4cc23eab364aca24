package proxy

import (
	"net"
	"sync"
)

const maxIdlePerOrigin = 4

// connPool keeps a few idle upstream connections per origin so a page's
// burst of same-host fetches does not redial for every resource.
type connPool struct {
	mu     sync.Mutex
	idle   map[string][]net.Conn
	closed bool
}

func newConnPool() *connPool {
	return &connPool{idle: make(map[string][]net.Conn)}
}

// get pops an idle connection for origin, if any.
func (p *connPool) get(origin string) net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	conns := p.idle[origin]
	if len(conns) == 0 {
		return nil
	}
	c := conns[len(conns)-1]
	p.idle[origin] = conns[:len(conns)-1]
	return c
}

// put returns a healthy connection to the pool, closing it instead when
// the pool is full or already shut down.
func (p *connPool) put(origin string, c net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle[origin]) >= maxIdlePerOrigin {
		_ = c.Close()
		return
	}
	p.idle[origin] = append(p.idle[origin], c)
}

func (p *connPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, conns := range p.idle {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	p.idle = make(map[string][]net.Conn)
}
