package client

import (
	"errors"
	"io"

	"github.com/fujin-io/nats-client/internal/common/pool"
	"github.com/fujin-io/nats-client/internal/observability"
)

// readLoop pulls chunks off the socket and feeds them to the parser. It owns
// no state shared with the next socket's reader, so teardown is
// fire-and-forget: closing the socket unblocks the read and the loop exits.
func (c *Client) readLoop(s *socket, p *parser) {
	buf := pool.Get(c.conf.ReadBufferSize)
	buf = buf[:cap(buf)]
	defer func() {
		p.releaseArgs()
		p.releaseMsgBuf()
		pool.Put(buf[:0])
	}()

	for {
		n, err := s.read(buf)
		if n > 0 {
			observability.AddBytesIn(n)
			c.stats.inBytes.Add(uint64(n))
			if perr := p.parse(buf[:n]); perr != nil {
				c.l.Error("inbound parse", "err", perr, "url", s.url)
				observability.IncError("parse")
				s.closeWith(perr)
				return
			}
		}
		if err != nil {
			if !s.isClosed() && !errors.Is(err, io.EOF) {
				c.l.Debug("read socket", "err", err, "url", s.url)
			}
			s.closeWith(err)
			return
		}
	}
}
