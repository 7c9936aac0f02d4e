package sockapi

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeMiner answers the text protocol on a loopback listener: one command
// per connection, reply, close. It records every command it saw.
type fakeMiner struct {
	ln      net.Listener
	mu      sync.Mutex
	seen    []string
	replies map[string]string
}

func newFakeMiner(t *testing.T, replies map[string]string) *fakeMiner {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	m := &fakeMiner{ln: ln, replies: replies}
	go m.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return m
}

func (m *fakeMiner) serve() {
	for {
		conn, err := m.ln.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
			buf := make([]byte, 256)
			n, _ := conn.Read(buf)
			cmd := strings.TrimSpace(string(buf[:n]))
			m.mu.Lock()
			m.seen = append(m.seen, cmd)
			reply := m.replies[cmd]
			m.mu.Unlock()
			_, _ = io.WriteString(conn, reply)
		}(conn)
	}
}

func (m *fakeMiner) addr() string { return m.ln.Addr().String() }

func (m *fakeMiner) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}

func TestFetchTelemetry(t *testing.T) {
	miner := newFakeMiner(t, map[string]string{
		cmdVersion: versionFixture,
		cmdSummary: summaryFixture,
		cmdEstats:  estatsFixture,
		cmdPools:   poolsFixture,
	})
	c := New(zap.NewNop(), 2*time.Second)

	got, err := c.FetchTelemetry(context.Background(), miner.addr())
	require.NoError(t, err)

	assert.Equal(t, "Nano3", got.Version.Model)
	assert.InDelta(t, 3610.70291, got.Summary.HashrateGHS, 1e-6)
	assert.Equal(t, 133.0, got.Stats.PowerW)
	assert.Equal(t, "bc1qexample.worker1", got.Pool.User)
	assert.Equal(t, []string{cmdVersion, cmdSummary, cmdEstats, cmdPools}, miner.commands())
}

func TestFetchTelemetryUnreachable(t *testing.T) {
	c := New(zap.NewNop(), 200*time.Millisecond)
	c.retry.MaxAttempts = 1

	_, err := c.FetchTelemetry(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestRestartAcknowledged(t *testing.T) {
	miner := newFakeMiner(t, map[string]string{
		cmdReboot: "STATUS=S,When=1712000000,Code=120,Msg=ASC 0 set info: reboot|",
	})
	c := New(zap.NewNop(), 2*time.Second)

	require.NoError(t, c.Restart(context.Background(), miner.addr()))
	assert.Equal(t, []string{cmdReboot}, miner.commands())
}

func TestRestartRejected(t *testing.T) {
	miner := newFakeMiner(t, map[string]string{
		cmdReboot: "STATUS=E,When=1712000000,Code=14,Msg=Invalid command|",
	})
	c := New(zap.NewNop(), 2*time.Second)

	err := c.Restart(context.Background(), miner.addr())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not acknowledged")
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "10.0.0.5:4028", hostPort("10.0.0.5"))
	assert.Equal(t, "10.0.0.5:4029", hostPort("10.0.0.5:4029"))
}
