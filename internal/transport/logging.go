// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	applog "pitchscope/internal/log"
)

// LoggingTransport implements the Transport interface by logging a summary
// of each frame at debug level.
type LoggingTransport struct {
	sent atomic.Uint64
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the received data. It never fails.
func (lt *LoggingTransport) Send(data any) error {
	lt.sent.Add(1)

	switch v := data.(type) {
	case Frame:
		for c, ch := range v.Channels {
			peak := -1
			if len(ch.Pitch) > 0 {
				peak = floats.MaxIdx(ch.Pitch)
			}
			applog.Debugf("Transport: Frame %d ch%d norm_avg=%.4f peak_bin=%d", v.Seq, c, ch.NormAvg, peak)
		}
	default:
		applog.Debugf("Transport: Received (%T): %+v", data, data)
	}
	return nil
}

// Sent returns the number of Send calls.
func (lt *LoggingTransport) Sent() uint64 { return lt.sent.Load() }

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	applog.Debugf("Transport: LoggingTransport closed after %d sends", lt.sent.Load())
	return nil
}

// Ensure LoggingTransport satisfies the interface at compile time.
var _ Transport = (*LoggingTransport)(nil)
