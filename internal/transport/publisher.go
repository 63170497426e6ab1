// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pitchscope/internal/analysis"
	applog "pitchscope/internal/log"
)

// DefaultInterval is used when a publisher is given a non-positive interval.
const DefaultInterval = 33 * time.Millisecond

// Publisher polls a SnapshotSource on a ticker and sends a Frame to a
// Transport whenever a new block has completed.
type Publisher struct {
	source    SnapshotSource
	transport Transport
	interval  time.Duration
	now       func() time.Time

	mu       sync.Mutex
	ticker   *time.Ticker
	doneChan chan struct{}
	wg       sync.WaitGroup

	snap    *analysis.Snapshot // Owned by the publisher goroutine.
	lastSeq uint64
	sent    atomic.Uint64
	failed  atomic.Uint64
}

// NewPublisher creates a Publisher. It does not start it.
func NewPublisher(interval time.Duration, source SnapshotSource, t Transport) (*Publisher, error) {
	if source == nil {
		return nil, errors.New("publisher: snapshot source cannot be nil")
	}
	if t == nil {
		return nil, errors.New("publisher: transport cannot be nil")
	}
	if interval <= 0 {
		applog.Warnf("Publisher: Invalid interval %s, defaulting to %s", interval, DefaultInterval)
		interval = DefaultInterval
	}
	return &Publisher{
		source:    source,
		transport: t,
		interval:  interval,
		now:       time.Now,
		snap:      source.NewSnapshot(),
	}, nil
}

// Start launches the publishing goroutine. Starting a running publisher is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker != nil {
		return
	}
	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})

	ticker, done := p.ticker, p.doneChan
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("Publisher: Started (Interval: %s, Transport: %T)", p.interval, p.transport)
		for {
			select {
			case <-ticker.C:
				p.poll()
			case <-done:
				return
			}
		}
	}()
}

// Stop signals the publishing goroutine and waits for it. Stopping a
// stopped publisher is a no-op.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.doneChan)
	p.ticker.Stop()
	p.ticker = nil
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("Publisher: Stopped (Sent: %d, Failed: %d)", p.sent.Load(), p.failed.Load())
	return nil
}

// Close stops the publisher. The transport is left open.
func (p *Publisher) Close() error { return p.Stop() }

// Sent returns the number of frames handed to the transport successfully.
func (p *Publisher) Sent() uint64 { return p.sent.Load() }

// poll sends one frame if the source has completed a block since the last send.
func (p *Publisher) poll() {
	if p.source.Seq() == p.lastSeq {
		return
	}
	if err := p.source.SnapshotInto(p.snap); err != nil {
		applog.Errorf("Publisher: Failed to read snapshot: %v", err)
		return
	}
	if p.snap.Seq == p.lastSeq {
		return
	}
	p.lastSeq = p.snap.Seq

	if err := p.transport.Send(NewFrame(p.snap, p.now())); err != nil {
		p.failed.Add(1)
		applog.Debugf("Publisher: Send failed for frame %d: %v", p.snap.Seq, err)
		return
	}
	p.sent.Add(1)
}

var _ interface{ Close() error } = (*Publisher)(nil)
