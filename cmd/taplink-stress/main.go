//go:build linux

// Command taplink-stress pushes traffic through a bridge built on socket
// pair devices and prints what made it across.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/irctrakz/taplink/pkg/core"
	"github.com/irctrakz/taplink/pkg/logging"
	"github.com/irctrakz/taplink/pkg/relay"
	"github.com/irctrakz/taplink/pkg/tun"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

func main() {
	var (
		count    = pflag.IntP("count", "n", 20000, "packets to send in each direction")
		pktSize  = pflag.IntP("size", "s", 512, "packet size (bytes)")
		bufSize  = pflag.IntP("buffer", "b", relay.DefaultBufferSize, "bridge buffer size (bytes)")
		drainMs  = pflag.Int("drain", 1000, "milliseconds to keep draining after the senders finish")
		oneWay   = pflag.Bool("one-way", false, "only send upper to lower")
		showLogs = pflag.Bool("logs", false, "show bridge fault logs")
	)
	pflag.Parse()

	// Quieter logs by default; under backpressure every dropped write is a warning
	logging.SetLevel(logging.ErrorLevel)
	if *showLogs {
		logging.SetLevel(logging.InfoLevel)
	}
	if *pktSize < 1 {
		*pktSize = 1
	}

	upper, upperNet, err := tun.NewPipe("stress-up", core.KindTAP)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	lower, lowerNet, err := tun.NewPipe("stress-lo", core.KindTAP)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() {
		for _, d := range []*tun.Interface{upper, upperNet, lower, lowerNet} {
			d.Close()
		}
	}()

	bridge, err := relay.New(upper, lower, relay.Options{BufferSize: *bufSize})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer bridge.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- bridge.Run(ctx) }()

	payload := make([]byte, *pktSize)
	rand.Read(payload)

	var recvDown, recvUp uint64
	stopDrain := make(chan struct{})
	var drainers sync.WaitGroup
	drainers.Add(2)
	go drain(lowerNet, &recvDown, stopDrain, &drainers)
	go drain(upperNet, &recvUp, stopDrain, &drainers)

	start := time.Now()
	var senders sync.WaitGroup
	senders.Add(1)
	go send(upperNet, payload, *count, &senders)
	if !*oneWay {
		senders.Add(1)
		go send(lowerNet, payload, *count, &senders)
	}
	senders.Wait()
	sendDur := time.Since(start)

	time.Sleep(time.Duration(*drainMs) * time.Millisecond)
	close(stopDrain)
	drainers.Wait()
	cancel()
	if err := <-runDone; err != nil {
		fmt.Fprintln(os.Stderr, "bridge:", err)
	}

	down, up := bridge.Down().Metrics(), bridge.Up().Metrics()
	fmt.Printf("Send duration: %v (%d x %d bytes per direction)\n", sendDur, *count, *pktSize)
	fmt.Printf("down: forwarded=%d bytes=%d faults=%d received=%d\n",
		down.PacketsForwarded, down.BytesForwarded, down.Faults, atomic.LoadUint64(&recvDown))
	fmt.Printf("up:   forwarded=%d bytes=%d faults=%d received=%d\n",
		up.PacketsForwarded, up.BytesForwarded, up.Faults, atomic.LoadUint64(&recvUp))
	if secs := sendDur.Seconds(); secs > 0 {
		fmt.Printf("rate: %.0f P/s down, %.0f P/s up\n", float64(down.PacketsForwarded)/secs, float64(up.PacketsForwarded)/secs)
	}

	// Forwarded packets that never reached the far side indicate a counting bug.
	if down.PacketsForwarded != atomic.LoadUint64(&recvDown) || up.PacketsForwarded != atomic.LoadUint64(&recvUp) {
		fmt.Println("ERROR: forwarded and received counts differ")
		os.Exit(1)
	}
	if down.Faults+up.Faults > 0 {
		fmt.Println("WARN: writes were dropped under backpressure; increase drain or lower count")
	}
}

// send writes n copies of payload, waiting for room when the socket is full.
func send(dev *tun.Interface, payload []byte, n int, wg *sync.WaitGroup) {
	defer wg.Done()
	fds := []unix.PollFd{{Fd: int32(dev.Fd()), Events: unix.POLLOUT}}
	for i := 0; i < n; {
		_, err := dev.Write(payload)
		switch err {
		case nil:
			i++
		case unix.EAGAIN:
			unix.Poll(fds, 10)
		default:
			fmt.Fprintf(os.Stderr, "send on %s: %v\n", dev.Name(), err)
			return
		}
	}
}

// drain reads and counts packets until stop is closed.
func drain(dev *tun.Interface, count *uint64, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, relay.DefaultBufferSize)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if _, err := tun.ReadTimeout(dev, buf, 50); err == nil {
			atomic.AddUint64(count, 1)
		}
	}
}
