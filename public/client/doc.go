// Package client implements the connection core of a NATS client: a single
// TCP (optionally TLS) session to a NATS server with a pipelined writer, a
// streaming protocol parser, subscription and request/response routing, and
// transparent reconnection with subscription replay.
//
// Commands from any number of goroutines are pushed onto a lock-free queue,
// coalesced into batched socket writes by a single write loop, and completed
// after their bytes reach the socket. The reader parses INFO, PING, PONG,
// +OK, -ERR, MSG and HMSG frames from arbitrarily split chunks and routes
// payloads by sid.
//
//	conf := config.ClientConfig{URLs: []string{"nats://127.0.0.1:4222"}}
//	nc, err := client.New(conf)
//	if err != nil { ... }
//	if err := nc.Connect(ctx); err != nil { ... }
//	defer nc.Close()
//
//	sub, _ := nc.Subscribe("orders.*", func(msg *client.Msg) { ... })
//	defer sub.Unsubscribe()
//	_ = nc.Publish("orders.created", payload)
package client
