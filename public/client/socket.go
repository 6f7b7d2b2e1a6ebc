package client

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fujin-io/nats-client/public/client/config"
)

// socket wraps a stream transport with a closed-signal that latches exactly
// once, carrying the cause. Remote close, I/O errors and the ping watchdog
// all funnel through closeWith.
type socket struct {
	nc  net.Conn
	url string

	dead atomic.Bool
	once sync.Once
	done chan struct{}
	err  error
}

func newSocket(nc net.Conn, url string) *socket {
	return &socket{nc: nc, url: url, done: make(chan struct{})}
}

func (s *socket) write(p []byte) (int, error) { return s.nc.Write(p) }
func (s *socket) read(p []byte) (int, error)  { return s.nc.Read(p) }

func (s *socket) closeWith(err error) {
	s.once.Do(func() {
		s.err = err
		s.dead.Store(true)
		_ = s.nc.Close()
		close(s.done)
	})
}

func (s *socket) closed() <-chan struct{} { return s.done }
func (s *socket) isClosed() bool          { return s.dead.Load() }

// closeErr is valid after the closed channel fires.
func (s *socket) closeErr() error { return s.err }

// dialSocket establishes TCP and, depending on the TLS mode, completes the
// TLS handshake before any protocol bytes are exchanged. A tls:// scheme
// forces TLS in every mode except disable, where it fails the dial.
func dialSocket(rawURL string, timeout time.Duration, tc *config.TLSConfig) (*socket, error) {
	host, forceTLS, err := splitURL(rawURL)
	if err != nil {
		return nil, err
	}

	nc, err := net.DialTimeout("tcp", host, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}
	if tcp, ok := nc.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	useTLS := forceTLS || tc.Enabled()
	if tc.Mode == config.TLSModeDisable {
		if forceTLS {
			_ = nc.Close()
			return nil, fmt.Errorf("%w: tls scheme with tls disabled", ErrTLSRequired)
		}
		useTLS = false
	}
	if !useTLS {
		return newSocket(nc, rawURL), nil
	}

	conf := tc.Config
	if conf == nil {
		conf = &tls.Config{}
	}
	conf = conf.Clone()
	if conf.ServerName == "" {
		if h, _, err := net.SplitHostPort(host); err == nil {
			conf.ServerName = h
		}
	}

	tnc := tls.Client(nc, conf)
	_ = tnc.SetDeadline(time.Now().Add(timeout))
	if err := tnc.Handshake(); err != nil {
		_ = nc.Close()
		if tc.Mode == config.TLSModePrefer && !forceTLS {
			// plain fallback
			nc, derr := net.DialTimeout("tcp", host, timeout)
			if derr != nil {
				return nil, fmt.Errorf("dial %s: %w", host, derr)
			}
			return newSocket(nc, rawURL), nil
		}
		return nil, fmt.Errorf("tls handshake %s: %w", host, err)
	}
	_ = tnc.SetDeadline(time.Time{})

	return newSocket(tnc, rawURL), nil
}

// splitURL extracts host:port from a candidate URL. Bare host:port, nats://
// and tls:// forms are accepted; a missing port defaults to 4222.
func splitURL(rawURL string) (host string, forceTLS bool, err error) {
	in := rawURL
	if !strings.Contains(in, "://") {
		in = "nats://" + in
	}
	u, err := url.Parse(in)
	if err != nil {
		return "", false, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "nats", "":
	case "tls":
		forceTLS = true
	default:
		return "", false, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	host = u.Host
	if host == "" {
		return "", false, fmt.Errorf("missing host in url %q", rawURL)
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "4222")
	}
	return host, forceTLS, nil
}
