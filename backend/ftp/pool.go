package ftp

import (
	"context"
	"errors"
	"net/textproto"
	"sync"

	"github.com/jlaffaye/ftp"

	"github.com/grokify/objectdal"
)

var errPoolClosed = errors.New("ftp: connection pool closed")

// pool keeps idle control connections. An FTP control connection serves one
// command at a time, so every operation borrows its own.
type pool struct {
	dial func(ctx context.Context) (*ftp.ServerConn, error)
	idle chan *ftp.ServerConn

	mu     sync.Mutex
	closed bool
}

func newPool(size int, dial func(ctx context.Context) (*ftp.ServerConn, error)) *pool {
	return &pool{dial: dial, idle: make(chan *ftp.ServerConn, size)}
}

func (p *pool) get(ctx context.Context) (*ftp.ServerConn, error) {
	for {
		select {
		case c, ok := <-p.idle:
			if !ok {
				return nil, errPoolClosed
			}
			// Connections idle long enough get dropped by servers.
			if err := c.NoOp(); err != nil {
				_ = c.Quit()
				continue
			}
			return c, nil
		default:
			return p.dial(ctx)
		}
	}
}

// put returns c after an operation that ended with err. Connections that
// failed below the FTP protocol are discarded.
func (p *pool) put(c *ftp.ServerConn, err error) {
	if broken(err) {
		_ = c.Quit()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = c.Quit()
		return
	}
	select {
	case p.idle <- c:
	default:
		_ = c.Quit()
	}
}

func (p *pool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.idle)
	for c := range p.idle {
		_ = c.Quit()
	}
}

// broken reports an error that did not come from an FTP reply. Errors built
// by the backend itself carry no source and leave the connection usable.
func broken(err error) bool {
	if err == nil {
		return false
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return false
	}
	var e *objectdal.Error
	if errors.As(err, &e) && e.Unwrap() == nil {
		return false
	}
	return true
}
