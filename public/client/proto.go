package client

import (
	"github.com/bytedance/sonic"
)

// NATS client protocol: text control lines terminated by CRLF, with binary
// payload bodies for MSG/HMSG. CONNECT and INFO carry JSON arguments.

const (
	crlf = "\r\n"

	hdrLine     = "NATS/1.0"
	hdrLineCRLF = hdrLine + crlf
)

// ServerInfo is the parsed argument of the server's INFO frame.
type ServerInfo struct {
	ID           string   `json:"server_id"`
	Name         string   `json:"server_name"`
	Version      string   `json:"version"`
	Proto        int      `json:"proto"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	Headers      bool     `json:"headers"`
	AuthRequired bool     `json:"auth_required,omitempty"`
	TLSRequired  bool     `json:"tls_required,omitempty"`
	TLSAvailable bool     `json:"tls_available,omitempty"`
	MaxPayload   int64    `json:"max_payload"`
	ClientID     uint64   `json:"client_id,omitempty"`
	ClientIP     string   `json:"client_ip,omitempty"`
	ConnectURLs  []string `json:"connect_urls,omitempty"`
	LameDuckMode bool     `json:"ldm,omitempty"`
}

// connectOpts is the argument of the CONNECT frame sent during the handshake.
type connectOpts struct {
	Verbose  bool   `json:"verbose"`
	Pedantic bool   `json:"pedantic"`
	TLS      bool   `json:"tls_required"`
	Name     string `json:"name,omitempty"`
	User     string `json:"user,omitempty"`
	Pass     string `json:"pass,omitempty"`
	Token    string `json:"auth_token,omitempty"`
	Lang     string `json:"lang"`
	Version  string `json:"version"`
	Protocol int    `json:"protocol"`
	Headers  bool   `json:"headers"`
}

func unmarshalInfo(arg []byte, info *ServerInfo) error {
	return sonic.Unmarshal(arg, info)
}

func marshalConnect(opts connectOpts) ([]byte, error) {
	return sonic.Marshal(opts)
}
