package client

import (
	"bytes"
	"fmt"
	"sort"
)

// Header carries HMSG/HPUB headers. Keys are case-sensitive, matching the
// wire form.
type Header map[string][]string

func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	if vs := h[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (h Header) Values(key string) []string {
	if h == nil {
		return nil
	}
	return h[key]
}

func (h Header) Set(key, value string) {
	h[key] = []string{value}
}

func (h Header) Add(key, value string) {
	h[key] = append(h[key], value)
}

// Inline status pseudo-headers parsed from the HMSG version line.
const (
	statusHdr      = "Status"
	descriptionHdr = "Description"

	noRespondersStatus = "503"
)

// Msg is a message delivered to a subscription handler or returned by
// Request.
type Msg struct {
	Subject string
	Reply   string
	Header  Header
	Data    []byte

	c *Client
}

// Respond publishes data to the message's reply subject.
func (m *Msg) Respond(data []byte) error {
	if m.Reply == "" {
		return ErrNoReply
	}
	return m.c.Publish(m.Reply, data)
}

// RespondMsg publishes a full message to the reply subject.
func (m *Msg) RespondMsg(resp *Msg) error {
	if m.Reply == "" {
		return ErrNoReply
	}
	resp.Subject = m.Reply
	return m.c.PublishMsg(resp)
}

// parseHeader decodes an HMSG header block:
//
//	NATS/1.0[ <status>[ <description>]]\r\n(<key>: <value>\r\n)*\r\n
func parseHeader(data []byte) (Header, error) {
	if !bytes.HasPrefix(data, []byte(hdrLine)) {
		return nil, fmt.Errorf("%w: bad header version: %q", ErrProtocol, snippet(data, 0))
	}

	h := make(Header)

	rest := data[len(hdrLine):]
	nl := bytes.Index(rest, []byte(crlf))
	if nl < 0 {
		return nil, fmt.Errorf("%w: unterminated header version line", ErrProtocol)
	}
	if status := bytes.TrimLeft(rest[:nl], " \t"); len(status) > 0 {
		if sp := bytes.IndexByte(status, ' '); sp > 0 {
			h.Set(statusHdr, string(status[:sp]))
			h.Set(descriptionHdr, string(bytes.TrimSpace(status[sp+1:])))
		} else {
			h.Set(statusHdr, string(status))
		}
	}
	rest = rest[nl+2:]

	for len(rest) > 0 {
		nl = bytes.Index(rest, []byte(crlf))
		if nl < 0 {
			return nil, fmt.Errorf("%w: unterminated header line", ErrProtocol)
		}
		line := rest[:nl]
		rest = rest[nl+2:]
		if len(line) == 0 {
			break
		}
		col := bytes.IndexByte(line, ':')
		if col <= 0 {
			return nil, fmt.Errorf("%w: malformed header line: %q", ErrProtocol, line)
		}
		key := string(line[:col])
		val := string(bytes.TrimLeft(line[col+1:], " \t"))
		h.Add(key, val)
	}

	return h, nil
}

// appendHeader encodes a header block in wire form. Keys are emitted in
// sorted order so the output is deterministic.
func appendHeader(dst []byte, h Header) []byte {
	dst = append(dst, hdrLineCRLF...)

	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range h[k] {
			dst = append(dst, k...)
			dst = append(dst, ':', ' ')
			dst = append(dst, v...)
			dst = append(dst, crlf...)
		}
	}
	return append(dst, crlf...)
}
