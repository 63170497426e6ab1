// SPDX-License-Identifier: MIT
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"pitchscope/internal/analysis"
	applog "pitchscope/internal/log"
	"pitchscope/internal/transport"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Completed block count   |
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Channel Count     | uint16         | 2            | Number of channels (C)  |
| Bin Count         | uint16         | 2            | Pitch bins (B)          |
| Channels          | see below      | C * (4+B*4)  | One record per channel  |
+-----------------------------------------------------------------------------+

Channel record:

|<-- 4 Bytes -->|<-------- B * 4 Bytes -------->|
+---------------+-------------------------------+
|   NormAvg     |          Pitch bins           |
|   (float32)   |        (B * float32)          |
+---------------+-------------------------------+
*/

const (
	// HeaderSize is the fixed packet prefix in bytes.
	HeaderSize = 4 + 8 + 2 + 2
	// MaxPacketSize is the largest UDP payload a publisher will emit.
	MaxPacketSize = 65507
)

// ErrPacketTooLarge is returned when a frame does not fit in one datagram.
var ErrPacketTooLarge = errors.New("pitch frame exceeds UDP payload limit")

// PacketSize returns the packet length for channels channels of bins bins.
func PacketSize(channels, bins int) int {
	return HeaderSize + channels*(4+bins*4)
}

// AppendPacket appends the wire encoding of s to dst.
func AppendPacket(dst []byte, s *analysis.Snapshot, timestamp int64) []byte {
	channels := s.Channels()
	bins := 0
	if channels > 0 {
		bins = len(s.Pitch[0])
	}

	dst = binary.BigEndian.AppendUint32(dst, uint32(s.Seq))
	dst = binary.BigEndian.AppendUint64(dst, uint64(timestamp))
	dst = binary.BigEndian.AppendUint16(dst, uint16(channels))
	dst = binary.BigEndian.AppendUint16(dst, uint16(bins))
	for c := range channels {
		dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(s.NormAvg[c])))
		for _, v := range s.Pitch[c] {
			dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(float32(v)))
		}
	}
	return dst
}

// Packet is a decoded pitch frame.
type Packet struct {
	Seq       uint32
	Timestamp int64
	NormAvg   []float32
	Pitch     [][]float32
}

// DecodePacket parses a packet produced by AppendPacket.
func DecodePacket(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("short packet: %d bytes", len(b))
	}
	p := &Packet{
		Seq:       binary.BigEndian.Uint32(b[0:]),
		Timestamp: int64(binary.BigEndian.Uint64(b[4:])),
	}
	channels := int(binary.BigEndian.Uint16(b[12:]))
	bins := int(binary.BigEndian.Uint16(b[14:]))
	if want := PacketSize(channels, bins); len(b) != want {
		return nil, fmt.Errorf("packet length %d, want %d for %d channels of %d bins", len(b), want, channels, bins)
	}

	p.NormAvg = make([]float32, channels)
	p.Pitch = make([][]float32, channels)
	off := HeaderSize
	for c := range channels {
		p.NormAvg[c] = math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
		off += 4
		p.Pitch[c] = make([]float32, bins)
		for i := range bins {
			p.Pitch[c][i] = math.Float32frombits(binary.BigEndian.Uint32(b[off:]))
			off += 4
		}
	}
	return p, nil
}

// UDPPublisher periodically reads the latest snapshot, packs its pitch data
// into a binary packet, and sends it over UDP using a UDPSender. A packet is
// sent only when a new block has completed since the previous one.
type UDPPublisher struct {
	sender   *UDPSender
	source   transport.SnapshotSource
	interval time.Duration

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Channel used to signal the publisher goroutine to stop.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects access to ticker and doneChan during Start/Stop.

	// Owned by the publisher goroutine.
	snap    *analysis.Snapshot
	packet  []byte
	lastSeq uint64
	sent    uint64
}

// NewUDPPublisher creates and initializes a new UDPPublisher.
// If the provided interval is invalid (<= 0), it defaults to transport.DefaultInterval.
func NewUDPPublisher(interval time.Duration, sender *UDPSender, source transport.SnapshotSource) (*UDPPublisher, error) {
	if sender == nil {
		return nil, errors.New("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, errors.New("UDPPublisher: snapshot source cannot be nil")
	}
	if interval <= 0 {
		interval = transport.DefaultInterval
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}

	snap := source.NewSnapshot()
	size := PacketSize(snap.Channels(), analysis.PitchBins)
	if size > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, size)
	}
	applog.Infof("UDPPublisher: Initializing (Interval: %s, Channels: %d, Packet: %d bytes)",
		interval, snap.Channels(), size)

	return &UDPPublisher{
		sender:   sender,
		source:   source,
		interval: interval,
		snap:     snap,
		packet:   make([]byte, 0, size),
	}, nil
}

// Start begins the periodic publishing process.
// It is safe to call Start multiple times; subsequent calls are no-ops if already started.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("UDPPublisher: Publishing to %s every %s", p.sender.Target(), p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times; subsequent calls are no-ops.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		applog.Debugf("UDPPublisher: Stop called but not running.")
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("UDPPublisher: Stopped after %d packets.", p.sent)
	return nil
}

// buildAndSendPacket sends the latest snapshot if its sequence advanced.
func (p *UDPPublisher) buildAndSendPacket() {
	if p.source.Seq() == p.lastSeq {
		return
	}
	if err := p.source.SnapshotInto(p.snap); err != nil {
		applog.Errorf("UDPPublisher: Error reading snapshot: %v", err)
		return
	}
	if p.snap.Seq == p.lastSeq {
		return
	}
	p.lastSeq = p.snap.Seq

	p.packet = AppendPacket(p.packet[:0], p.snap, time.Now().UnixNano())
	if err := p.sender.Send(p.packet); err != nil {
		applog.Debugf("UDPPublisher: Error sending packet %d: %v", p.snap.Seq, err)
		return
	}
	p.sent++
	applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.snap.Seq, len(p.packet))
}

// Close implements the io.Closer interface. It gracefully stops the publisher goroutine.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*UDPPublisher)(nil)
