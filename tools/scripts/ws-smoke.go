// Package main provides a CI-friendly WebSocket smoke test for the Pulse
// realtime endpoint.
//
// It validates:
//   - token handshake (query parameter auth)
//   - connected greeting on open
//   - ping answered with pong keeps the connection alive
//   - a service_update or alert frame arrives within the observation window
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "pulse/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL (token appended)")
		token   = flag.String("token", "", "bearer token issued by /auth/login")
		observe = flag.Duration("observe", 15*time.Second, "how long to wait for a service_update or alert")
		timeout = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("-token is required")
	}

	target := *wsURL + "?token=" + url.QueryEscape(*token)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	conn, resp, err := websocket.Dial(ctx, target, nil)
	cancel()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	conn.SetReadLimit(maxReadBytes)

	var (
		sawConnected bool
		sawPing      bool
		sawUpdate    bool
	)

	deadline := time.Now().Add(*observe)
	for time.Now().Before(deadline) && !(sawConnected && sawUpdate) {
		env, err := readEnvelope(conn, time.Until(deadline))
		if err != nil {
			fatalf("read: %v", err)
		}
		if env == nil {
			break
		}

		switch env.Type {
		case v1.TypeConnected:
			sawConnected = true
			if *verbose {
				fmt.Printf("connected frame received\n")
			}
		case v1.TypePing:
			sawPing = true
			wctx, wcancel := context.WithTimeout(context.Background(), *timeout)
			err := conn.Write(wctx, websocket.MessageText, v1.Pong())
			wcancel()
			if err != nil {
				fatalf("pong: %v", err)
			}
			if *verbose {
				fmt.Printf("ping answered\n")
			}
		case v1.TypeServiceUpdate, v1.TypeAlert:
			sawUpdate = true
			if *verbose {
				fmt.Printf("%s frame received\n", env.Type)
			}
		default:
			if *verbose {
				fmt.Printf("ignoring %q frame\n", env.Type)
			}
		}
	}

	if !sawConnected {
		fatalf("no connected greeting within %s", *observe)
	}
	if !sawUpdate {
		fatalf("no service_update or alert within %s", *observe)
	}
	fmt.Printf("OK: connected=%v ping=%v update=%v\n", sawConnected, sawPing, sawUpdate)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func readEnvelope(conn *websocket.Conn, wait time.Duration) (*v1.Envelope, error) {
	if wait <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	mt, data, err := conn.Read(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}

	env, err := v1.ParseEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("bad frame %s: %w", truncate(data, 80), err)
	}
	return &env, nil
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
