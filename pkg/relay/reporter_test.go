package relay

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/irctrakz/taplink/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestReporterFirstTickAfterInterval(t *testing.T) {
	r := NewReporter(&Counter{}, &Counter{}, epoch)
	assert.Equal(t, epoch.Add(ReportInterval), r.Next())
	assert.Equal(t, ReportInterval, r.Remaining(epoch))

	_, ticked := r.Check(epoch.Add(999 * time.Millisecond))
	assert.False(t, ticked)

	_, ticked = r.Check(epoch.Add(ReportInterval))
	assert.True(t, ticked)
}

func TestReporterResetsCounters(t *testing.T) {
	up, down := &Counter{}, &Counter{}
	r := NewReporter(up, down, epoch)

	down.Add(64)
	up.Add(100)
	up.Add(200)

	rep, ticked := r.Check(epoch.Add(ReportInterval))
	require.True(t, ticked)
	assert.Equal(t, core.TrafficSnapshot{Packets: 1, Bytes: 64}, rep.Down)
	assert.Equal(t, core.TrafficSnapshot{Packets: 2, Bytes: 300}, rep.Up)
	assert.Equal(t, rep, r.Last())

	assert.Equal(t, core.TrafficSnapshot{}, up.Snapshot())
	assert.Equal(t, core.TrafficSnapshot{}, down.Snapshot())

	rep, ticked = r.Check(epoch.Add(2 * ReportInterval))
	require.True(t, ticked)
	assert.Equal(t, core.TrafficSnapshot{}, rep.Up)
	assert.Equal(t, core.TrafficSnapshot{}, rep.Down)
}

func TestReporterAdvancesFromNow(t *testing.T) {
	r := NewReporter(&Counter{}, &Counter{}, epoch)

	// A late wake fires one tick and schedules the next a full interval later.
	late := epoch.Add(2500 * time.Millisecond)
	_, ticked := r.Check(late)
	require.True(t, ticked)
	assert.Equal(t, late.Add(ReportInterval), r.Next())

	_, ticked = r.Check(late.Add(500 * time.Millisecond))
	assert.False(t, ticked)
}

func TestReporterRemainingNeverNegative(t *testing.T) {
	r := NewReporter(&Counter{}, &Counter{}, epoch)
	assert.Zero(t, r.Remaining(epoch.Add(time.Hour)))
}

func TestReporterStatusLine(t *testing.T) {
	var buf bytes.Buffer
	down := &Counter{}
	r := NewReporter(&Counter{}, down, epoch)
	r.SetOutput(&buf, true)

	now := epoch
	for i := 0; i < 5; i++ {
		down.Add(64)
		now = now.Add(ReportInterval)
		_, ticked := r.Check(now)
		require.True(t, ticked)
	}

	lines := strings.SplitAfter(buf.String(), "\r")
	lines = lines[:len(lines)-1]
	require.Len(t, lines, 5)
	for i, line := range lines {
		assert.Equal(t, "-\\|/-"[i], line[0], "spinner at tick %d", i)
		assert.True(t, strings.HasSuffix(line, "\r"))
	}
	assert.Contains(t, lines[0], "D:          1 P/s,           64 B/s,           512 b/s")
}

func TestReporterNewlineWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&Counter{}, &Counter{}, epoch)
	r.SetOutput(&buf, false)

	r.Check(epoch.Add(ReportInterval))
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.NotContains(t, buf.String(), "\r")
}

func TestReporterSilent(t *testing.T) {
	up := &Counter{}
	r := NewReporter(up, &Counter{}, epoch)
	r.SetOutput(nil, false)

	up.Add(10)
	rep, ticked := r.Check(epoch.Add(ReportInterval))
	require.True(t, ticked)
	assert.Equal(t, uint64(10), rep.Up.Bytes)
	assert.Equal(t, core.TrafficSnapshot{}, up.Snapshot())
}

func TestFormatStatus(t *testing.T) {
	rep := Report{
		Up:   core.TrafficSnapshot{Packets: 0, Bytes: 0},
		Down: core.TrafficSnapshot{Packets: 1, Bytes: 64},
	}
	want := "- U:         0 P/s,            0 B/s,             0 b/s, D:          1 P/s,           64 B/s,           512 b/s"
	assert.Equal(t, want, FormatStatus('-', rep))
}
