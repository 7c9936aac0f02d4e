// Package sockapi speaks the raw-socket text API of Avalon-family miners
// (cgminer protocol over TCP 4028): write a command, read until the device
// closes the connection, parse pipe/comma/bracket structured text.
package sockapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"miner-sentinel/internal/retrypolicy"
)

const (
	defaultPort = "4028"
	readChunk   = 4096
)

const (
	cmdVersion = "version"
	cmdSummary = "summary"
	cmdEstats  = "estats"
	cmdPools   = "pools"
	cmdReboot  = "ascset|0,reboot,0"
)

// restartAckToken marks a successful command reply in the text protocol.
const restartAckToken = "STATUS=S"

var (
	ErrUnreachable   = errors.New("sockapi: device unreachable")
	ErrEmptyResponse = errors.New("sockapi: empty response")
)

// Telemetry is one full round of decoded replies from a single device.
type Telemetry struct {
	Version Version
	Summary Summary
	Stats   Stats
	Pool    Pool
}

type Client struct {
	timeout time.Duration
	retry   retrypolicy.Policy
	log     *zap.Logger
}

func New(log *zap.Logger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		timeout: timeout,
		retry:   retrypolicy.Default(),
		log:     log.Named("sockapi"),
	}
}

// FetchTelemetry issues the version, summary, estats and pools commands
// against one device and decodes whatever comes back. Transport failures on
// any command abort the fetch; decode problems never do — missing or
// garbled fields just come back zeroed.
func (c *Client) FetchTelemetry(ctx context.Context, addr string) (Telemetry, error) {
	var t Telemetry
	for _, step := range []struct {
		cmd  string
		into func(raw string)
	}{
		{cmdVersion, func(raw string) { t.Version = DecodeVersion(raw) }},
		{cmdSummary, func(raw string) { t.Summary = DecodeSummary(raw) }},
		{cmdEstats, func(raw string) { t.Stats = DecodeStats(raw) }},
		{cmdPools, func(raw string) { t.Pool = DecodePool(raw) }},
	} {
		raw, err := c.roundTrip(ctx, addr, step.cmd)
		if err != nil {
			return Telemetry{}, fmt.Errorf("command %q: %w", step.cmd, err)
		}
		step.into(raw)
	}
	return t, nil
}

// Restart asks the device to reboot. The reply is best-effort: success is a
// reply containing the protocol's STATUS=S acknowledgement.
func (c *Client) Restart(ctx context.Context, addr string) error {
	raw, err := c.roundTrip(ctx, addr, cmdReboot)
	if err != nil {
		return err
	}
	if !strings.Contains(raw, restartAckToken) {
		return fmt.Errorf("sockapi: restart not acknowledged: %q", truncate(raw, 120))
	}
	return nil
}

// roundTrip opens a fresh connection per command (the device closes after
// every reply) and retries transient failures with backoff.
func (c *Client) roundTrip(ctx context.Context, addr, command string) (string, error) {
	var out string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		raw, err := c.exchange(ctx, addr, command)
		if err != nil {
			c.log.Debug("exchange failed",
				zap.String("addr", addr),
				zap.String("command", command),
				zap.Error(err))
			return err
		}
		out = raw
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}
	return out, nil
}

func (c *Client) exchange(ctx context.Context, addr, command string) (string, error) {
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", hostPort(addr))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))
	if _, err := conn.Write([]byte(command)); err != nil {
		return "", err
	}

	var b strings.Builder
	buf := make([]byte, readChunk)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			b.Write(buf[:n])
		}
		if err != nil {
			// EOF is the normal end of a reply; a deadline after partial
			// data means the device never closed, keep what we have.
			if b.Len() > 0 {
				break
			}
			if errors.Is(err, io.EOF) {
				return "", ErrEmptyResponse
			}
			return "", err
		}
	}
	raw := strings.TrimRight(b.String(), "\x00")
	if raw == "" {
		return "", ErrEmptyResponse
	}
	return raw, nil
}

func hostPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defaultPort)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
