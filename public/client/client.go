package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fujin-io/nats-client/internal/observability"
	"github.com/fujin-io/nats-client/public/client/config"
)

const (
	clientLang    = "go"
	clientVersion = "0.1.0"
)

// Status is the connection state.
type Status int32

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusOpen
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// signal is a one-shot completion. complete latches the first error and
// unblocks every waiter.
type signal struct {
	ch   chan struct{}
	err  error
	once sync.Once
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) complete(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
	})
}

func (s *signal) done() <-chan struct{} { return s.ch }

func (s *signal) wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handshake carries the per-attempt signals the reader completes. It is
// bound to its socket so a lingering reader from a dead socket can never
// complete a newer attempt's signals.
type handshake struct {
	s    *socket
	info *signal
	pong *signal
}

type connStats struct {
	inMsgs, outMsgs   atomic.Uint64
	inBytes, outBytes atomic.Uint64
	reconnects        atomic.Uint64
}

// Stats is a point-in-time snapshot of connection counters.
type Stats struct {
	InMsgs, OutMsgs   uint64
	InBytes, OutBytes uint64
	Reconnects        uint64
}

type pingResult struct {
	rtt time.Duration
	err error
}

type pingWaiter struct {
	ch   chan pingResult
	sent time.Time
}

// Client is a single connection to a NATS server or cluster. It pipelines
// outbound commands from any number of goroutines into batched socket
// writes, dispatches inbound frames to subscriptions and request waiters,
// and transparently reconnects with subscription replay.
type Client struct {
	conf config.ClientConfig
	l    *slog.Logger

	// state machine fields, guarded by mu and held only across transitions
	mu         sync.Mutex
	status     Status
	sock       *socket
	writerDone chan struct{}
	pingStop   chan struct{}
	waitOpen   *signal
	lastURL    string
	supervised bool

	hs atomic.Pointer[handshake]

	infoMu sync.RWMutex
	info   ServerInfo

	out  *outbound
	subs *subRegistry
	reqs *reqRegistry
	pool *cmdPool

	outstanding atomic.Int32
	pongMu      sync.Mutex
	pongs       []pingWaiter

	serializer Serializer
	disposed   atomic.Bool
	closeCh    chan struct{}
	sfg        singleflight.Group
	stats      connStats
	obsClose   func(context.Context) error
}

// Option customizes a Client beyond its config.
type Option func(*Client) error

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) error {
		c.l = l
		return nil
	}
}

func WithSerializer(s Serializer) Option {
	return func(c *Client) error {
		c.serializer = s
		return nil
	}
}

// New builds a client from conf. The connection is not established until
// Connect.
func New(conf config.ClientConfig, opts ...Option) (*Client, error) {
	if err := conf.Parse(); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	c := &Client{
		conf:       conf,
		l:          slog.Default(),
		serializer: RawSerializer{},
		waitOpen:   newSignal(),
		closeCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.l = c.l.With("component", "nats-client")

	c.pool = newCmdPool(conf.CommandPoolSize)
	c.out = newOutbound(conf.WriteBufferSize, c.pool, &c.stats, c.l)

	subs, err := newSubRegistry(conf.DispatchPoolSize, c.l)
	if err != nil {
		return nil, err
	}
	c.subs = subs
	c.reqs = newReqRegistry(conf.InboxPrefix)

	obsClose, err := observability.Init(context.Background(), conf.Observability, c.l)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}
	c.obsClose = obsClose

	return c, nil
}

// Connect establishes the connection. It is idempotent: concurrent callers
// share one attempt and observe the same outcome.
func (c *Client) Connect(ctx context.Context) error {
	if c.disposed.Load() {
		return ErrDisposed
	}

	c.mu.Lock()
	switch c.status {
	case StatusOpen:
		c.mu.Unlock()
		return nil
	case StatusConnecting, StatusReconnecting:
		w := c.waitOpen
		c.mu.Unlock()
		return w.wait(ctx)
	}
	c.status = StatusConnecting
	c.mu.Unlock()

	res := c.sfg.DoChan("connect", func() (any, error) {
		return nil, c.initialConnect()
	})
	select {
	case r := <-res:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) initialConnect() error {
	urls := append([]string(nil), c.conf.URLs...)
	if !c.conf.NoRandomize {
		rand.Shuffle(len(urls), func(i, j int) { urls[i], urls[j] = urls[j], urls[i] })
	}

	var lastErr error
	for _, u := range urls {
		if c.disposed.Load() {
			c.failConnecting(ErrDisposed)
			return ErrDisposed
		}
		err := c.attempt(u, false)
		if err == nil {
			return nil
		}
		lastErr = err
		c.l.Warn("connect attempt failed", "url", u, "err", err)
	}

	err := fmt.Errorf("%w: %w", ErrNoServers, lastErr)
	c.failConnecting(err)
	return err
}

// failConnecting records the failure on the shared wait-for-open signal and
// replaces it with a fresh one so later callers can retry.
func (c *Client) failConnecting(err error) {
	c.mu.Lock()
	c.status = StatusClosed
	w := c.waitOpen
	c.waitOpen = newSignal()
	c.mu.Unlock()
	w.complete(err)
}

// attempt runs one full connection attempt against a single URL: dial,
// start the reader and writer on the new socket, then the INFO/CONNECT/PONG
// exchange, with SUB replay when reconnecting.
func (c *Client) attempt(u string, reconnect bool) error {
	s, err := dialSocket(u, c.conf.ConnectTimeout, &c.conf.TLS)
	if err != nil {
		return err
	}

	hs := &handshake{s: s, info: newSignal(), pong: newSignal()}
	c.hs.Store(hs)
	c.out.setGated(true)

	go c.readLoop(s, newParser(c, s))
	wdone := make(chan struct{})
	go c.out.writeLoop(s, wdone)

	fail := func(cause error) error {
		cause = fmt.Errorf("%w: %w", ErrHandshake, cause)
		c.hs.Store(nil)
		s.closeWith(cause)
		c.out.wake()
		<-wdone
		c.out.clearPriority(cause)
		return cause
	}

	tctx, cancel := context.WithTimeout(context.Background(), c.conf.ConnectTimeout)
	defer cancel()

	if err := awaitSignal(tctx, hs.info, s); err != nil {
		return fail(err)
	}

	c.infoMu.RLock()
	tlsRequired := c.info.TLSRequired
	c.infoMu.RUnlock()
	_, isTLS := s.nc.(*tls.Conn)
	if tlsRequired && !isTLS {
		return fail(ErrTLSRequired)
	}

	cjson, err := marshalConnect(connectOpts{
		Verbose:  c.conf.Verbose,
		Pedantic: c.conf.Pedantic,
		TLS:      isTLS,
		Name:     c.conf.Name,
		User:     c.conf.User,
		Pass:     c.conf.Pass,
		Token:    c.conf.Token,
		Lang:     clientLang,
		Version:  clientVersion,
		Protocol: 1,
		Headers:  true,
	})
	if err != nil {
		return fail(err)
	}

	ccmd, cfut := c.pool.getAwait()
	ccmd.kind = cmdConnect
	ccmd.connect = cjson
	pcmd := c.pool.get()
	pcmd.kind = cmdPing
	cmds := []*command{ccmd, pcmd}

	var sbfut future
	var replayed int
	if reconnect {
		if snap := c.subs.snapshot(); len(snap) > 0 {
			sb, fut := c.pool.getAwait()
			sb.kind = cmdSubBatch
			sb.subs = snap
			sbfut = fut
			replayed = len(snap)
			cmds = append(cmds, sb)
		}
	}
	c.out.enqueuePriority(cmds...)

	if err := awaitFuture(tctx, cfut, s); err != nil {
		return fail(err)
	}
	if err := awaitSignal(tctx, hs.pong, s); err != nil {
		return fail(err)
	}
	if reconnect && replayed > 0 {
		if err := awaitFuture(tctx, sbfut, s); err != nil {
			return fail(err)
		}
	}

	if c.disposed.Load() {
		return fail(ErrDisposed)
	}

	c.hs.Store(nil)
	c.mu.Lock()
	c.status = StatusOpen
	c.sock = s
	c.writerDone = wdone
	c.lastURL = u
	c.pingStop = make(chan struct{})
	stop := c.pingStop
	w := c.waitOpen
	startSup := !c.supervised
	c.supervised = true
	c.mu.Unlock()

	c.out.setGated(false)
	go c.pingLoop(stop, s)
	w.complete(nil)
	if startSup {
		go c.supervise()
	}

	if reconnect {
		c.stats.reconnects.Add(1)
		observability.IncReconnects()
		c.l.Info("reconnected", "url", u, "replayed_subs", replayed)
	} else {
		c.l.Info("connected", "url", u)
	}
	return nil
}

func awaitSignal(ctx context.Context, sig *signal, s *socket) error {
	select {
	case <-sig.done():
		return sig.err
	case <-s.closed():
		return s.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func awaitFuture(ctx context.Context, f future, s *socket) error {
	if f.ch == nil {
		return nil
	}
	select {
	case err := <-f.ch:
		return err
	case <-s.closed():
		return s.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supervise is the single long-lived reconnect supervisor. It blocks on the
// current socket's closed-signal, flips the state machine into Reconnecting
// and drives reconnect rounds until disposed.
func (c *Client) supervise() {
	for {
		c.mu.Lock()
		s := c.sock
		c.mu.Unlock()
		if s == nil {
			return
		}

		<-s.closed()
		if c.disposed.Load() {
			return
		}
		c.l.Warn("connection lost", "url", s.url, "err", s.closeErr())

		c.enterReconnecting()
		if !c.reconnectLoop() {
			return
		}
	}
}

// enterReconnecting performs the Open -> Reconnecting transition: flip
// state, replace the wait-for-open signal, stop the ping timer and fail all
// pending requests. The old reader tears itself down; the old writer is
// awaited synchronously because its buffer and queue must not race the next
// writer.
func (c *Client) enterReconnecting() {
	c.mu.Lock()
	c.status = StatusReconnecting
	w := c.waitOpen
	c.waitOpen = newSignal()
	stop := c.pingStop
	c.pingStop = nil
	wdone := c.writerDone
	c.writerDone = nil
	c.sock = nil
	c.mu.Unlock()

	w.complete(ErrConnectionLost)
	if stop != nil {
		close(stop)
	}
	c.reqs.reset(ErrConnectionLost)
	c.failPongs(ErrConnectionLost)
	c.outstanding.Store(0)

	if wdone != nil {
		c.out.wake()
		<-wdone
	}
}

func (c *Client) reconnectLoop() bool {
	for {
		for _, u := range c.reconnectCandidates() {
			if c.disposed.Load() {
				return false
			}
			if err := c.attempt(u, true); err != nil {
				c.l.Warn("reconnect attempt failed", "url", u, "err", err)
				observability.IncError("reconnect")
				continue
			}
			return true
		}

		wait := c.conf.ReconnectWait + rand.N(c.conf.ReconnectJitter)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-c.closeCh:
			t.Stop()
			return false
		}
	}
}

// reconnectCandidates builds the URL rotation: advertised connect URLs from
// the most recent INFO, de-duplicated, falling back to the seed list;
// shuffled unless no_randomize; the previous URL moved to the end.
func (c *Client) reconnectCandidates() []string {
	c.infoMu.RLock()
	adv := append([]string(nil), c.info.ConnectURLs...)
	c.infoMu.RUnlock()

	seen := make(map[string]struct{}, len(adv))
	urls := make([]string, 0, len(adv))
	for _, u := range adv {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	if len(urls) == 0 {
		urls = append(urls, c.conf.URLs...)
	}

	if !c.conf.NoRandomize {
		rand.Shuffle(len(urls), func(i, j int) { urls[i], urls[j] = urls[j], urls[i] })
	}

	c.mu.Lock()
	last := c.lastURL
	c.mu.Unlock()
	for i, u := range urls {
		if u == last && i != len(urls)-1 {
			urls = append(append(urls[:i:i], urls[i+1:]...), u)
			break
		}
	}
	return urls
}

// pingLoop is the keepalive watchdog for one socket.
func (c *Client) pingLoop(stop chan struct{}, s *socket) {
	t := time.NewTicker(c.conf.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.closed():
			return
		case <-t.C:
			if int(c.outstanding.Add(1)) > c.conf.MaxPingsOut {
				c.l.Warn("stale connection, aborting socket", "url", s.url)
				s.closeWith(ErrStaleConnection)
				return
			}
			cmd := c.pool.get()
			cmd.kind = cmdPing
			c.out.enqueue(cmd)
		}
	}
}

// Ping sends a PING and returns the measured round trip to the server's
// PONG.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	if c.disposed.Load() {
		return 0, ErrDisposed
	}

	pw := pingWaiter{ch: make(chan pingResult, 1), sent: time.Now()}
	c.pongMu.Lock()
	c.pongs = append(c.pongs, pw)
	c.pongMu.Unlock()

	cmd := c.pool.get()
	cmd.kind = cmdPing
	c.out.enqueue(cmd)

	select {
	case r := <-pw.ch:
		return r.rtt, r.err
	case <-ctx.Done():
		c.removePong(pw.ch)
		return 0, ctx.Err()
	}
}

func (c *Client) removePong(ch chan pingResult) {
	c.pongMu.Lock()
	defer c.pongMu.Unlock()
	for i, pw := range c.pongs {
		if pw.ch == ch {
			c.pongs = append(c.pongs[:i], c.pongs[i+1:]...)
			return
		}
	}
}

func (c *Client) failPongs(err error) {
	c.pongMu.Lock()
	pongs := c.pongs
	c.pongs = nil
	c.pongMu.Unlock()
	for _, pw := range pongs {
		pw.ch <- pingResult{err: err}
	}
}

// Close shuts the client down: drain the writer up to the configured
// window, close the socket, fail everything pending. The client cannot be
// reused.
func (c *Client) Close() error {
	if !c.disposed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closeCh)

	c.mu.Lock()
	c.status = StatusClosed
	w := c.waitOpen
	stop := c.pingStop
	c.pingStop = nil
	s := c.sock
	c.sock = nil
	wdone := c.writerDone
	c.writerDone = nil
	c.mu.Unlock()

	w.complete(ErrDisposed)
	if stop != nil {
		close(stop)
	}
	if s != nil {
		c.out.drain(c.conf.DrainTimeout)
	}
	c.out.shutdown()
	if s != nil {
		s.closeWith(ErrDisposed)
	}
	if wdone != nil {
		<-wdone
	}

	c.out.failQueued(ErrDisposed)
	c.reqs.reset(ErrDisposed)
	c.failPongs(ErrDisposed)
	c.subs.clearAll()
	c.subs.close()

	if c.obsClose != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.obsClose(ctx)
	}

	c.l.Info("client closed")
	return nil
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ConnectedURL returns the URL of the current server, if open.
func (c *Client) ConnectedURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusOpen {
		return ""
	}
	return c.lastURL
}

// ServerInfo returns the most recent INFO received from the server.
func (c *Client) ServerInfo() ServerInfo {
	c.infoMu.RLock()
	defer c.infoMu.RUnlock()
	return c.info
}

// Stats returns a snapshot of connection counters.
func (c *Client) Stats() Stats {
	return Stats{
		InMsgs:     c.stats.inMsgs.Load(),
		OutMsgs:    c.stats.outMsgs.Load(),
		InBytes:    c.stats.inBytes.Load(),
		OutBytes:   c.stats.outBytes.Load(),
		Reconnects: c.stats.reconnects.Load(),
	}
}

// InboxPrefix returns the process-unique reply subject root of this client.
func (c *Client) InboxPrefix() string {
	return c.reqs.prefix
}

// --- inbound event processing (called from the reader goroutine) ---

func (c *Client) processInfo(s *socket, arg []byte) error {
	var info ServerInfo
	if err := unmarshalInfo(arg, &info); err != nil {
		return fmt.Errorf("%w: bad INFO argument: %w", ErrProtocol, err)
	}
	c.infoMu.Lock()
	c.info = info
	c.infoMu.Unlock()

	if hs := c.hs.Load(); hs != nil && hs.s == s {
		hs.info.complete(nil)
	}
	return nil
}

func (c *Client) processPing() {
	cmd := c.pool.get()
	cmd.kind = cmdPong
	c.out.enqueue(cmd)
}

func (c *Client) processPong(s *socket) {
	if hs := c.hs.Load(); hs != nil && hs.s == s {
		hs.pong.complete(nil)
		return
	}

	for {
		v := c.outstanding.Load()
		if v <= 0 {
			break
		}
		if c.outstanding.CompareAndSwap(v, v-1) {
			break
		}
	}

	c.pongMu.Lock()
	if len(c.pongs) == 0 {
		c.pongMu.Unlock()
		return
	}
	pw := c.pongs[0]
	c.pongs = c.pongs[1:]
	c.pongMu.Unlock()
	pw.ch <- pingResult{rtt: time.Since(pw.sent)}
}

func (c *Client) processOK() {}

func (c *Client) processErr(s *socket, arg []byte) {
	msg := string(bytes.TrimSpace(bytes.Trim(bytes.TrimSpace(arg), "'")))

	if hs := c.hs.Load(); hs != nil && hs.s == s {
		hs.pong.complete(fmt.Errorf("nats: server error: %s", msg))
		return
	}

	norm := strings.ToLower(msg)
	if strings.Contains(norm, "authorization violation") || strings.Contains(norm, "authentication") {
		err := fmt.Errorf("%w: %s", ErrAuthorization, msg)
		c.l.Error("server error", "err", err, "url", s.url)
		s.closeWith(err)
		return
	}
	c.l.Error("server error", "err", msg, "url", s.url)
}

func (c *Client) processMsg(s *socket, ma *msgArg, payload []byte) {
	c.stats.inMsgs.Add(1)
	observability.IncMsgsIn()

	var hdr Header
	data := payload
	if ma.hdr > 0 {
		h, err := parseHeader(payload[:ma.hdr])
		if err != nil {
			c.l.Error("inbound headers", "err", err, "subject", string(ma.subject))
			s.closeWith(err)
			return
		}
		hdr = h
		data = payload[ma.hdr:]
	}

	msg := &Msg{
		Subject: string(ma.subject),
		Reply:   string(ma.reply),
		Header:  hdr,
		Data:    data,
		c:       c,
	}
	c.subs.dispatch(ma.sid, msg)
}
