package client

import (
	"fmt"

	"github.com/fujin-io/nats-client/internal/common/pool"
)

const (
	OP_START int = iota

	OP_PLUS
	OP_PLUS_O
	OP_PLUS_OK

	OP_MINUS
	OP_MINUS_E
	OP_MINUS_ER
	OP_MINUS_ERR
	OP_MINUS_ERR_SPC
	MINUS_ERR_ARG

	OP_M
	OP_MS
	OP_MSG
	OP_MSG_SPC
	MSG_ARG
	MSG_PAYLOAD
	MSG_END

	OP_H

	OP_P
	OP_PI
	OP_PIN
	OP_PING
	OP_PO
	OP_PON
	OP_PONG

	OP_I
	OP_IN
	OP_INF
	OP_INFO
	OP_INFO_SPC
	INFO_ARG
)

const maxMsgArgs = 5

type msgArg struct {
	subject []byte
	reply   []byte
	sid     uint64
	hdr     int
	size    int
}

// parser consumes the inbound byte stream of a single socket and dispatches
// protocol events to the client. Args and payloads that span read chunks are
// staged in pooled buffers; complete frames are handed out as views into the
// read buffer.
type parser struct {
	c *Client
	s *socket

	state  int
	as     int
	drop   int
	hdr    bool
	ma     msgArg
	argBuf []byte
	msgBuf []byte
}

func newParser(c *Client, s *socket) *parser {
	return &parser{c: c, s: s}
}

func (p *parser) parse(buf []byte) error {
	var (
		i int
		b byte
	)

	for i = 0; i < len(buf); i++ {
		b = buf[i]

		switch p.state {
		case OP_START:
			switch b {
			case 'M', 'm':
				p.state = OP_M
				p.hdr = false
				p.ma.hdr = 0
			case 'H', 'h':
				p.state = OP_H
			case 'P', 'p':
				p.state = OP_P
			case '+':
				p.state = OP_PLUS
			case '-':
				p.state = OP_MINUS
			case 'I', 'i':
				p.state = OP_I
			default:
				goto parseErr
			}
		case OP_H:
			switch b {
			case 'M', 'm':
				p.state = OP_M
				p.hdr = true
			default:
				goto parseErr
			}
		case OP_M:
			switch b {
			case 'S', 's':
				p.state = OP_MS
			default:
				goto parseErr
			}
		case OP_MS:
			switch b {
			case 'G', 'g':
				p.state = OP_MSG
			default:
				goto parseErr
			}
		case OP_MSG:
			switch b {
			case ' ', '\t':
				p.state = OP_MSG_SPC
			default:
				goto parseErr
			}
		case OP_MSG_SPC:
			switch b {
			case ' ', '\t':
				continue
			default:
				p.state = MSG_ARG
				p.as = i
			}
		case MSG_ARG:
			switch b {
			case '\r':
				p.drop = 1
			case '\n':
				var arg []byte
				if p.argBuf != nil {
					arg = p.argBuf
				} else {
					arg = buf[p.as : i-p.drop]
				}
				if err := p.processMsgArgs(arg); err != nil {
					return err
				}
				p.drop, p.as, p.state = 0, i+1, MSG_PAYLOAD

				if p.msgBuf == nil {
					// fast path: skip ahead if the whole payload is here
					if i+p.ma.size < len(buf) {
						i += p.ma.size
						p.deliverMsg(buf[p.as : p.as+p.ma.size])
						p.releaseArgs()
						p.state = MSG_END
					}
				}
			default:
				if p.argBuf != nil {
					p.argBuf = append(p.argBuf, b)
				}
			}
		case MSG_PAYLOAD:
			if p.msgBuf != nil {
				if len(p.msgBuf) >= p.ma.size {
					p.deliverMsg(p.msgBuf)
					p.releaseArgs()
					p.releaseMsgBuf()
					p.state = MSG_END
				} else {
					toCopy := p.ma.size - len(p.msgBuf)
					avail := len(buf) - i
					if avail < toCopy {
						toCopy = avail
					}
					p.msgBuf = append(p.msgBuf, buf[i:i+toCopy]...)
					i = (i + toCopy) - 1
					if len(p.msgBuf) >= p.ma.size {
						p.deliverMsg(p.msgBuf)
						p.releaseArgs()
						p.releaseMsgBuf()
						p.state = MSG_END
					}
				}
			} else if i-p.as >= p.ma.size {
				p.deliverMsg(buf[p.as : p.as+p.ma.size])
				p.releaseArgs()
				p.state = MSG_END
			}
		case MSG_END:
			switch b {
			case '\n':
				p.drop, p.as, p.state = 0, i+1, OP_START
			default:
				continue
			}
		case OP_PLUS:
			switch b {
			case 'O', 'o':
				p.state = OP_PLUS_O
			default:
				goto parseErr
			}
		case OP_PLUS_O:
			switch b {
			case 'K', 'k':
				p.state = OP_PLUS_OK
			default:
				goto parseErr
			}
		case OP_PLUS_OK:
			switch b {
			case '\n':
				p.c.processOK()
				p.drop, p.state = 0, OP_START
			}
		case OP_MINUS:
			switch b {
			case 'E', 'e':
				p.state = OP_MINUS_E
			default:
				goto parseErr
			}
		case OP_MINUS_E:
			switch b {
			case 'R', 'r':
				p.state = OP_MINUS_ER
			default:
				goto parseErr
			}
		case OP_MINUS_ER:
			switch b {
			case 'R', 'r':
				p.state = OP_MINUS_ERR
			default:
				goto parseErr
			}
		case OP_MINUS_ERR:
			switch b {
			case ' ', '\t':
				p.state = OP_MINUS_ERR_SPC
			default:
				goto parseErr
			}
		case OP_MINUS_ERR_SPC:
			switch b {
			case ' ', '\t':
				continue
			default:
				p.state = MINUS_ERR_ARG
				p.as = i
			}
		case MINUS_ERR_ARG:
			switch b {
			case '\r':
				p.drop = 1
			case '\n':
				var arg []byte
				if p.argBuf != nil {
					arg = p.argBuf
				} else {
					arg = buf[p.as : i-p.drop]
				}
				p.c.processErr(p.s, arg)
				p.releaseArgs()
				p.drop, p.as, p.state = 0, i+1, OP_START
			default:
				if p.argBuf != nil {
					p.argBuf = append(p.argBuf, b)
				}
			}
		case OP_P:
			switch b {
			case 'I', 'i':
				p.state = OP_PI
			case 'O', 'o':
				p.state = OP_PO
			default:
				goto parseErr
			}
		case OP_PI:
			switch b {
			case 'N', 'n':
				p.state = OP_PIN
			default:
				goto parseErr
			}
		case OP_PIN:
			switch b {
			case 'G', 'g':
				p.state = OP_PING
			default:
				goto parseErr
			}
		case OP_PING:
			switch b {
			case '\n':
				p.c.processPing()
				p.drop, p.state = 0, OP_START
			}
		case OP_PO:
			switch b {
			case 'N', 'n':
				p.state = OP_PON
			default:
				goto parseErr
			}
		case OP_PON:
			switch b {
			case 'G', 'g':
				p.state = OP_PONG
			default:
				goto parseErr
			}
		case OP_PONG:
			switch b {
			case '\n':
				p.c.processPong(p.s)
				p.drop, p.state = 0, OP_START
			}
		case OP_I:
			switch b {
			case 'N', 'n':
				p.state = OP_IN
			default:
				goto parseErr
			}
		case OP_IN:
			switch b {
			case 'F', 'f':
				p.state = OP_INF
			default:
				goto parseErr
			}
		case OP_INF:
			switch b {
			case 'O', 'o':
				p.state = OP_INFO
			default:
				goto parseErr
			}
		case OP_INFO:
			switch b {
			case ' ', '\t':
				p.state = OP_INFO_SPC
			default:
				goto parseErr
			}
		case OP_INFO_SPC:
			switch b {
			case ' ', '\t':
				continue
			default:
				p.state = INFO_ARG
				p.as = i
			}
		case INFO_ARG:
			switch b {
			case '\r':
				p.drop = 1
			case '\n':
				var arg []byte
				if p.argBuf != nil {
					arg = p.argBuf
				} else {
					arg = buf[p.as : i-p.drop]
				}
				if err := p.c.processInfo(p.s, arg); err != nil {
					return err
				}
				p.releaseArgs()
				p.drop, p.as, p.state = 0, i+1, OP_START
			default:
				if p.argBuf != nil {
					p.argBuf = append(p.argBuf, b)
				}
			}
		default:
			goto parseErr
		}
	}

	// stash partial state for the next chunk
	if (p.state == MSG_ARG || p.state == MINUS_ERR_ARG || p.state == INFO_ARG) && p.argBuf == nil {
		p.argBuf = pool.Get(len(buf) - p.as + 32)
		p.argBuf = append(p.argBuf, buf[p.as:len(buf)-p.drop]...)
	}
	if p.state == MSG_PAYLOAD && p.msgBuf == nil {
		if p.argBuf == nil {
			p.cloneMsgArgs()
		}
		p.msgBuf = pool.Get(p.ma.size)
		p.msgBuf = append(p.msgBuf, buf[p.as:]...)
	}

	return nil

parseErr:
	return fmt.Errorf("%w: unexpected byte %q near %q", ErrProtocol, b, snippet(buf, i))
}

// cloneMsgArgs copies subject and reply out of the dying read buffer.
func (p *parser) cloneMsgArgs() {
	p.argBuf = pool.Get(len(p.ma.subject) + len(p.ma.reply) + 32)
	p.argBuf = append(p.argBuf, p.ma.subject...)
	p.argBuf = append(p.argBuf, p.ma.reply...)
	p.ma.subject = p.argBuf[:len(p.ma.subject)]
	p.ma.reply = p.argBuf[len(p.ma.subject):]
}

func (p *parser) releaseArgs() {
	if p.argBuf != nil {
		pool.Put(p.argBuf)
		p.argBuf = nil
	}
}

func (p *parser) releaseMsgBuf() {
	if p.msgBuf != nil {
		pool.Put(p.msgBuf)
		p.msgBuf = nil
	}
}

func (p *parser) processMsgArgs(arg []byte) error {
	a := [maxMsgArgs][]byte{}
	args := splitArgs(arg, a[:0])

	var sid, hdr, size int64

	if p.hdr {
		switch len(args) {
		case 4:
			p.ma.subject, p.ma.reply = args[0], nil
			sid, hdr, size = parseInt64(args[1]), parseInt64(args[2]), parseInt64(args[3])
		case 5:
			p.ma.subject, p.ma.reply = args[0], args[2]
			sid, hdr, size = parseInt64(args[1]), parseInt64(args[3]), parseInt64(args[4])
		default:
			return fmt.Errorf("%w: wrong number of HMSG arguments: %q", ErrProtocol, arg)
		}
		if sid < 0 || hdr < 0 || size < 0 || hdr > size {
			return fmt.Errorf("%w: bad HMSG arguments: %q", ErrProtocol, arg)
		}
	} else {
		switch len(args) {
		case 3:
			p.ma.subject, p.ma.reply = args[0], nil
			sid, size = parseInt64(args[1]), parseInt64(args[2])
		case 4:
			p.ma.subject, p.ma.reply = args[0], args[2]
			sid, size = parseInt64(args[1]), parseInt64(args[3])
		default:
			return fmt.Errorf("%w: wrong number of MSG arguments: %q", ErrProtocol, arg)
		}
		if sid < 0 || size < 0 {
			return fmt.Errorf("%w: bad MSG arguments: %q", ErrProtocol, arg)
		}
	}

	p.ma.sid = uint64(sid)
	p.ma.hdr = int(hdr)
	p.ma.size = int(size)
	return nil
}

func snippet(buf []byte, i int) []byte {
	end := i + 16
	if end > len(buf) {
		end = len(buf)
	}
	return buf[i:end]
}

func (p *parser) deliverMsg(payload []byte) {
	p.c.processMsg(p.s, &p.ma, payload)
}

func splitArgs(arg []byte, args [][]byte) [][]byte {
	start := -1
	for i, b := range arg {
		switch b {
		case ' ', '\t', '\r', '\n':
			if start >= 0 {
				args = append(args, arg[start:i])
				start = -1
			}
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		args = append(args, arg[start:])
	}
	return args
}

func parseInt64(d []byte) (n int64) {
	if len(d) == 0 {
		return -1
	}
	for _, dec := range d {
		if dec < '0' || dec > '9' {
			return -1
		}
		n = n*10 + int64(dec-'0')
	}
	return n
}
