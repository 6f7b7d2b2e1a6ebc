package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/valyala/bytebufferpool"

	"github.com/fujin-io/nats-client/internal/observability"
)

func validSubject(subject string) bool {
	if subject == "" {
		return false
	}
	return !strings.ContainsAny(subject, " \t\r\n")
}

// publishCmd stages a PUB/HPUB command. hdrs may be nil.
func (c *Client) publishCmd(subject, reply string, hdrs Header, data []byte, await bool) (future, error) {
	if c.disposed.Load() {
		return future{}, ErrDisposed
	}
	if !validSubject(subject) {
		return future{}, fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}

	var hdr []byte
	if len(hdrs) > 0 {
		if info := c.ServerInfo(); info.ID != "" && !info.Headers {
			return future{}, ErrHeadersNotSupported
		}
		hdr = appendHeader(nil, hdrs)
	}
	if info := c.ServerInfo(); info.MaxPayload > 0 && int64(len(hdr)+len(data)) > info.MaxPayload {
		return future{}, fmt.Errorf("%w: %d bytes", ErrMaxPayload, len(hdr)+len(data))
	}

	var cmd *command
	var fut future
	if await {
		cmd, fut = c.pool.getAwait()
	} else {
		cmd = c.pool.get()
	}
	cmd.kind = cmdPub
	cmd.subject = subject
	cmd.reply = reply
	cmd.stagePayload(hdr, data)

	c.stats.outMsgs.Add(1)
	observability.IncMsgsOut()
	c.out.enqueue(cmd)
	return fut, nil
}

// Publish enqueues data for subject and returns immediately.
func (c *Client) Publish(subject string, data []byte) error {
	_, err := c.publishCmd(subject, "", nil, data, false)
	return err
}

// PublishMsg enqueues a message with optional reply subject and headers.
func (c *Client) PublishMsg(m *Msg) error {
	_, err := c.publishCmd(m.Subject, m.Reply, m.Header, m.Data, false)
	return err
}

// PublishSync enqueues data and waits until its bytes have been handed to
// the socket.
func (c *Client) PublishSync(ctx context.Context, subject string, data []byte) error {
	fut, err := c.publishCmd(subject, "", nil, data, true)
	if err != nil {
		return err
	}
	return fut.wait(ctx)
}

// PublishMsgSync is PublishMsg with write acknowledgement.
func (c *Client) PublishMsgSync(ctx context.Context, m *Msg) error {
	fut, err := c.publishCmd(m.Subject, m.Reply, m.Header, m.Data, true)
	if err != nil {
		return err
	}
	return fut.wait(ctx)
}

// publishBatchCmd pre-encodes many PUB frames into a single command so they
// reach the socket in one write.
func (c *Client) publishBatchCmd(msgs []*Msg, await bool) (future, error) {
	if c.disposed.Load() {
		return future{}, ErrDisposed
	}

	buf := bytebufferpool.Get()
	for _, m := range msgs {
		if !validSubject(m.Subject) {
			bytebufferpool.Put(buf)
			return future{}, fmt.Errorf("%w: %q", ErrBadSubject, m.Subject)
		}
		var hdr []byte
		if len(m.Header) > 0 {
			hdr = appendHeader(nil, m.Header)
		}
		buf.B = appendPub(buf.B, m.Subject, m.Reply, hdr, m.Data)
	}

	var cmd *command
	var fut future
	if await {
		cmd, fut = c.pool.getAwait()
	} else {
		cmd = c.pool.get()
	}
	cmd.kind = cmdRaw
	cmd.repeat = 1
	cmd.payload = buf

	c.stats.outMsgs.Add(uint64(len(msgs)))
	for range msgs {
		observability.IncMsgsOut()
	}
	c.out.enqueue(cmd)
	return fut, nil
}

// PublishBatch enqueues all messages as a single socket write.
func (c *Client) PublishBatch(msgs []*Msg) error {
	_, err := c.publishBatchCmd(msgs, false)
	return err
}

// PublishBatchSync is PublishBatch with write acknowledgement.
func (c *Client) PublishBatchSync(ctx context.Context, msgs []*Msg) error {
	fut, err := c.publishBatchCmd(msgs, true)
	if err != nil {
		return err
	}
	return fut.wait(ctx)
}

// PublishObject serializes v with the configured serializer and publishes
// it.
func (c *Client) PublishObject(subject string, v any) error {
	data, err := c.serializer.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.Publish(subject, data)
}

// enqueueSub pushes the SUB command for a registered subscription.
func (c *Client) enqueueSub(sub *Subscription) {
	cmd := c.pool.get()
	cmd.kind = cmdSub
	cmd.subject = sub.subject
	cmd.queue = sub.queue
	cmd.sid = sub.sid
	c.out.enqueue(cmd)
}

// Subscribe registers cb for subject and returns a handle whose
// Unsubscribe releases the interest.
func (c *Client) Subscribe(subject string, cb MsgHandler) (*Subscription, error) {
	return c.QueueSubscribe(subject, "", cb)
}

// QueueSubscribe registers cb as part of a queue group: the server delivers
// each message to one member of the group.
func (c *Client) QueueSubscribe(subject, queue string, cb MsgHandler) (*Subscription, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}
	if !validSubject(subject) {
		return nil, fmt.Errorf("%w: %q", ErrBadSubject, subject)
	}
	if queue != "" && !validSubject(queue) {
		return nil, fmt.Errorf("%w: queue group %q", ErrBadSubject, queue)
	}

	sub := c.subs.add(c, subject, queue, cb)
	c.enqueueSub(sub)
	return sub, nil
}

// SubscribeRequest registers a server-side request handler: each inbound
// message is passed to h and the returned bytes are published to the
// message's reply subject.
func (c *Client) SubscribeRequest(subject string, h RequestHandler) (*Subscription, error) {
	return c.Subscribe(subject, func(msg *Msg) {
		resp, err := h(msg)
		if err != nil {
			c.l.Error("request handler", "subject", subject, "err", err)
			return
		}
		if msg.Reply == "" {
			return
		}
		if err := c.Publish(msg.Reply, resp); err != nil {
			c.l.Error("publish response", "subject", msg.Reply, "err", err)
		}
	})
}

// Request publishes data with a unique reply inbox and waits for the
// response. Timeouts are the caller's concern via ctx.
func (c *Client) Request(ctx context.Context, subject string, data []byte) (*Msg, error) {
	if c.disposed.Load() {
		return nil, ErrDisposed
	}

	ctx, span := observability.Tracer().Start(ctx, "nats.request")
	defer span.End()

	c.reqs.ensureMux(c)
	id, ch := c.reqs.register()
	defer c.reqs.cancel(id)

	if _, err := c.publishCmd(subject, c.reqs.replySubject(id), nil, data, false); err != nil {
		return nil, err
	}

	select {
	case ans := <-ch:
		if ans.err != nil {
			return nil, ans.err
		}
		if ans.msg.Header.Get(statusHdr) == noRespondersStatus && len(ans.msg.Data) == 0 {
			return nil, ErrNoResponders
		}
		return ans.msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RequestObject round-trips typed payloads through the configured
// serializer.
func (c *Client) RequestObject(ctx context.Context, subject string, req, resp any) error {
	data, err := c.serializer.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	msg, err := c.Request(ctx, subject, data)
	if err != nil {
		return err
	}
	if err := c.serializer.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// writeRawCmd stages arbitrary protocol bytes, repeated repeat times.
func (c *Client) writeRawCmd(raw []byte, repeat int, await bool) (future, error) {
	if c.disposed.Load() {
		return future{}, ErrDisposed
	}

	var cmd *command
	var fut future
	if await {
		cmd, fut = c.pool.getAwait()
	} else {
		cmd = c.pool.get()
	}
	cmd.kind = cmdRaw
	cmd.repeat = repeat
	cmd.stagePayload(nil, raw)
	c.out.enqueue(cmd)
	return fut, nil
}

// WriteRaw enqueues raw protocol bytes. Escape hatch: the bytes are written
// verbatim, repeated repeat times.
func (c *Client) WriteRaw(raw []byte, repeat int) error {
	_, err := c.writeRawCmd(raw, repeat, false)
	return err
}

// WriteRawSync is WriteRaw with write acknowledgement.
func (c *Client) WriteRawSync(ctx context.Context, raw []byte, repeat int) error {
	fut, err := c.writeRawCmd(raw, repeat, true)
	if err != nil {
		return err
	}
	return fut.wait(ctx)
}
