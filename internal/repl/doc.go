// Package repl implements the line-oriented channel client for Twincore.
//
// This package provides connectivity to a microcontroller's raw-mode REPL
// via a serial bridge exposed over a Unix or TCP socket. It has no opinion
// about line content: scripts go out, lines come back.
//
// # Architecture
//
// The client sits between the probe layer and the serial bridge:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│  Probe / Sync   │  lines   │  Channel Client │  socket
//	│     Layers      │◄────────►│   (this pkg)    │◄────────► Serial Bridge ◄──► Device
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Connect to the serial bridge via Unix socket or TCP
//   - Switch the device REPL into raw mode on every (re)connect
//   - Write scripts followed by the execute control byte
//   - Frame the incoming byte stream into lines and deliver them in order
//   - Reconnect automatically with exponential backoff
//
// # Line Framing
//
// The channel is a byte stream; the client frames it on '\n' and strips
// trailing carriage returns. A line longer than the read buffer means the
// framing has been lost, so the client drops the connection rather than
// deliver a truncated fragment:
//
//	client, err := repl.Connect(ctx, repl.Config{Connection: "tcp://localhost:8765"})
//	if err != nil {
//	    return err
//	}
//	client.SetOnLine(func(line repl.Line) {
//	    fmt.Println(line.Text)
//	})
//	err = client.Execute(ctx, "import json; print('DEVICE_STATE:' + json.dumps(state))")
//
// # Ordering
//
// Lines are delivered to the OnLine callback from a single dispatcher
// goroutine, in arrival order. Request/response matching above relies on
// this: a slow response must never overtake a later one.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use from multiple goroutines.
package repl
