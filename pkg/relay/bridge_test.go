//go:build linux

package relay

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/irctrakz/taplink/pkg/core"
	"github.com/irctrakz/taplink/pkg/tun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testBridge struct {
	*Bridge
	clock *fakeClock
	// upperNet and lowerNet stand in for the kernel behind each interface.
	upperNet, lowerNet *tun.Interface
}

func newTestBridge(t *testing.T, opts Options) *testBridge {
	t.Helper()
	upper, upperNet, err := tun.NewPipe("upper", core.KindTAP)
	require.NoError(t, err)
	lower, lowerNet, err := tun.NewPipe("lower", core.KindTAP)
	require.NoError(t, err)

	clock := &fakeClock{t: epoch}
	if opts.Clock == nil {
		opts.Clock = clock.Now
	}
	b, err := New(upper, lower, opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		b.Close()
		for _, d := range []*tun.Interface{upper, upperNet, lower, lowerNet} {
			d.Close()
		}
	})
	return &testBridge{Bridge: b, clock: clock, upperNet: upperNet, lowerNet: lowerNet}
}

// stepUntil drives the loop until cond holds.
func (tb *testBridge) stepUntil(t *testing.T, cond func() bool) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if cond() {
			return
		}
		require.NoError(t, tb.Step())
	}
	require.True(t, cond(), "condition not reached")
}

func send(t *testing.T, dev *tun.Interface, pkt []byte) {
	t.Helper()
	n, err := dev.Write(pkt)
	require.NoError(t, err)
	require.Equal(t, len(pkt), n)
}

func recv(t *testing.T, dev *tun.Interface) []byte {
	t.Helper()
	buf := make([]byte, 70000)
	n, err := tun.ReadTimeout(dev, buf, 1000)
	require.NoError(t, err)
	return buf[:n]
}

func assertSilent(t *testing.T, dev *tun.Interface) {
	t.Helper()
	_, err := tun.ReadTimeout(dev, make([]byte, 16), 50)
	assert.ErrorIs(t, err, unix.ETIMEDOUT, "unexpected packet on %s", dev.Name())
}

func randomPacket(n int) []byte {
	pkt := make([]byte, n)
	rand.Read(pkt)
	return pkt
}

func TestNewRejectsMixedKinds(t *testing.T) {
	a, aNet, err := tun.NewPipe("a", core.KindTAP)
	require.NoError(t, err)
	defer a.Close()
	defer aNet.Close()
	b, bNet, err := tun.NewPipe("b", core.KindTUN)
	require.NoError(t, err)
	defer b.Close()
	defer bNet.Close()

	_, err = New(a, b, Options{})
	assert.Error(t, err)
}

func TestNewRejectsSameDevice(t *testing.T) {
	a, aNet, err := tun.NewPipe("a", core.KindTAP)
	require.NoError(t, err)
	defer a.Close()
	defer aNet.Close()

	_, err = New(a, a, Options{})
	assert.Error(t, err)
}

func TestBridgeSinglePacketDown(t *testing.T) {
	tb := newTestBridge(t, Options{})

	pkt := randomPacket(64)
	send(t, tb.upperNet, pkt)
	tb.stepUntil(t, func() bool { return tb.Down().Counter().Snapshot().Packets == 1 })

	assert.Equal(t, pkt, recv(t, tb.lowerNet))
	assertSilent(t, tb.upperNet)

	tb.clock.Advance(ReportInterval)
	require.NoError(t, tb.Step())

	rep := tb.Reporter().Last()
	assert.Equal(t, core.TrafficSnapshot{Packets: 1, Bytes: 64}, rep.Down)
	assert.Equal(t, core.TrafficSnapshot{}, rep.Up)
	assert.Equal(t, uint64(512), rep.Down.Bits())

	assert.Equal(t, core.TrafficSnapshot{}, tb.Down().Counter().Snapshot())
	assert.Equal(t, core.TrafficSnapshot{}, tb.Up().Counter().Snapshot())
}

func TestBridgeRoundTripSizes(t *testing.T) {
	tb := newTestBridge(t, Options{})

	for _, size := range []int{1, 20, 64, 576, 1500, 9000, DefaultBufferSize} {
		pkt := randomPacket(size)
		send(t, tb.upperNet, pkt)
		tb.stepUntil(t, func() bool { return tb.Down().Counter().Snapshot().Bytes >= uint64(size) })
		assert.True(t, bytes.Equal(pkt, recv(t, tb.lowerNet)), "down %d bytes", size)

		pkt = randomPacket(size)
		send(t, tb.lowerNet, pkt)
		tb.stepUntil(t, func() bool { return tb.Up().Counter().Snapshot().Bytes >= uint64(size) })
		assert.True(t, bytes.Equal(pkt, recv(t, tb.upperNet)), "up %d bytes", size)

		tb.Down().Counter().Reset()
		tb.Up().Counter().Reset()
	}
}

func TestBridgeManyPacketsOneDirection(t *testing.T) {
	tb := newTestBridge(t, Options{})

	const n = 25
	var total uint64
	var sent [][]byte
	for i := 0; i < n; i++ {
		pkt := randomPacket(40 + i*37)
		total += uint64(len(pkt))
		sent = append(sent, pkt)
		send(t, tb.lowerNet, pkt)
	}
	tb.stepUntil(t, func() bool { return tb.Up().Counter().Snapshot().Packets == n })

	for i := 0; i < n; i++ {
		assert.Equal(t, sent[i], recv(t, tb.upperNet), "packet %d out of order", i)
	}
	assertSilent(t, tb.lowerNet)

	tb.clock.Advance(ReportInterval)
	require.NoError(t, tb.Step())
	rep := tb.Reporter().Last()
	assert.Equal(t, core.TrafficSnapshot{Packets: n, Bytes: total}, rep.Up)
	assert.Equal(t, core.TrafficSnapshot{}, rep.Down)
}

func TestBridgeBothDirections(t *testing.T) {
	tb := newTestBridge(t, Options{})

	toLower := randomPacket(100)
	toUpper := randomPacket(200)
	send(t, tb.upperNet, toLower)
	send(t, tb.lowerNet, toUpper)

	tb.stepUntil(t, func() bool {
		return tb.Down().Counter().Snapshot().Packets == 1 && tb.Up().Counter().Snapshot().Packets == 1
	})

	assert.Equal(t, toLower, recv(t, tb.lowerNet))
	assert.Equal(t, toUpper, recv(t, tb.upperNet))
	assertSilent(t, tb.lowerNet)
	assertSilent(t, tb.upperNet)

	assert.Equal(t, uint64(100), tb.Down().Counter().Snapshot().Bytes)
	assert.Equal(t, uint64(200), tb.Up().Counter().Snapshot().Bytes)
}

func TestBridgeTruncatesOversizePacket(t *testing.T) {
	tb := newTestBridge(t, Options{BufferSize: DefaultBufferSize})

	pkt := randomPacket(70000)
	send(t, tb.upperNet, pkt)
	tb.stepUntil(t, func() bool { return tb.Down().Counter().Snapshot().Packets == 1 })

	got := recv(t, tb.lowerNet)
	assert.Len(t, got, DefaultBufferSize)
	assert.Equal(t, pkt[:DefaultBufferSize], got)
	assert.Equal(t, uint64(DefaultBufferSize), tb.Down().Counter().Snapshot().Bytes)
}

func TestBridgeIdleTicks(t *testing.T) {
	var status bytes.Buffer
	tb := newTestBridge(t, Options{Status: &status, Terminal: false})

	for i := 0; i < 3; i++ {
		tb.clock.Advance(ReportInterval)
		require.NoError(t, tb.Step())
	}
	assert.Equal(t, 3, bytes.Count(status.Bytes(), []byte("\n")))
	assert.Contains(t, status.String(), "U:         0 P/s")
	assert.Equal(t, tb.clock.Now().Add(ReportInterval), tb.Reporter().Next())
}

func TestBridgeMetrics(t *testing.T) {
	buf := captureLog(t)
	tb := newTestBridge(t, Options{MetricsInterval: 2 * time.Second, MetricsFormat: "text"})
	assert.Contains(t, buf.String(), "upper=upper")
	assert.Contains(t, buf.String(), "buffer=65536")

	send(t, tb.upperNet, randomPacket(64))
	tb.stepUntil(t, func() bool { return tb.Down().Metrics().PacketsForwarded == 1 })
	recv(t, tb.lowerNet)

	tb.clock.Advance(2 * time.Second)
	require.NoError(t, tb.Step())
	assert.Contains(t, buf.String(), "down: pkts=1 bytes=64")
}

func TestBridgeObserver(t *testing.T) {
	obs := &recordingObserver{}
	tb := newTestBridge(t, Options{Observer: obs})

	send(t, tb.upperNet, []byte{1, 2, 3, 4})
	tb.stepUntil(t, func() bool { return len(obs.packets) == 1 })
	send(t, tb.lowerNet, []byte{5, 6})
	tb.stepUntil(t, func() bool { return len(obs.packets) == 2 })

	assert.Equal(t, []string{DirectionDown, DirectionUp}, obs.directions)
	assert.Equal(t, [][]byte{{1, 2, 3, 4}, {5, 6}}, obs.packets)
}

func TestBridgeSurvivesEndOfStream(t *testing.T) {
	tb := newTestBridge(t, Options{})

	// Shutting down the write side of the network end makes every read on
	// the upper source return zero bytes while upper stays writable.
	require.NoError(t, unix.Shutdown(tb.upperNet.Fd(), unix.SHUT_WR))

	pkt := randomPacket(128)
	send(t, tb.lowerNet, pkt)
	tb.stepUntil(t, func() bool { return tb.Up().Counter().Snapshot().Packets == 1 })

	assert.Equal(t, pkt, recv(t, tb.upperNet))
	assert.NotZero(t, tb.Down().Metrics().EndOfStream)
	assert.Zero(t, tb.Down().Metrics().PacketsForwarded)
	assert.Zero(t, tb.Up().Metrics().Faults)
}

func TestBridgeRunStopsOnCancel(t *testing.T) {
	tb := newTestBridge(t, Options{Clock: time.Now})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestReactorWaitTimeout(t *testing.T) {
	r, err := NewReactor()
	require.NoError(t, err)
	defer r.Close()

	start := time.Now()
	l, err := r.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestReactorRejectsDuplicateSource(t *testing.T) {
	dev, peer, err := tun.NewPipe("a", core.KindTAP)
	require.NoError(t, err)
	defer dev.Close()
	defer peer.Close()

	r, err := NewReactor()
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Register(NewLink(DirectionDown, dev, peer, 0)))
	assert.Error(t, r.Register(NewLink(DirectionUp, dev, peer, 0)))
}
