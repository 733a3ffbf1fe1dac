// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gxo is the wire protocol of the GXO remote object invocation
// server: the request and response messages, the framed block transport
// and a client.
//
// # Transports
//
// Two transports carry the same messages:
//
//	tcp   network path, deflate-compressed blocks, idle timeout, keep-alive
//	unix  local channel, plain blocks, no timeout
//
// # Usage
//
//	client, err := gxo.Dial(ctx, "localhost:1966")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	id, err := client.Init(ctx, "counter")
//	if err != nil {
//	    return err
//	}
//	n, err := client.Exec(ctx, sessionID, id, "Add", 5)
//
// Faults raised on the server come back as *fault.RemoteFault, whose cause
// chain can be walked with errors.Unwrap, or as *fault.SessionExpired.
//
// # Architecture
//
//   - message.go: protocol messages and their wire aliases
//   - codec.go: serializer setup and request/response helpers
//   - frame.go: block framing with optional compression
//   - transport.go: transport registry
//   - dial.go, client.go: the client
//
// The server lives in the server package.
package gxo
