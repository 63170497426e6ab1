// SPDX-License-Identifier: MIT
/*
Package ring implements a lock-free single-producer/single-consumer ring of
interleaved PCM frames with two-phase acquire/commit access on both sides.

The producer is expected to be an audio device callback: AcquireWrite,
CommitWrite and Write never block, never allocate and run in bounded time.
A full ring on write, or an empty ring on read, yields a zero-length grant
which callers treat as "try again later".

Hot Path Rules:
  - Exactly one goroutine (or callback thread) uses the write side.
  - Exactly one goroutine uses the read side.
  - Regions returned by Acquire* alias the backing store and are only valid
    until the matching Commit*.
*/
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"

	"pitchscope/internal/pcm"
	"pitchscope/pkg/bitint"
)

// MaxBytes bounds the backing store of a single ring.
const MaxBytes = 1 << 30

var (
	ErrInvalidCapacity    = errors.New("ring: capacity must be positive")
	ErrAllocation         = errors.New("ring: allocation failed")
	ErrCommitExceedsGrant = errors.New("ring: commit exceeds granted frames")
)

// Ring is a power-of-two sized store of frames. Cursors are free-running
// frame counters; the slot of a cursor is cursor & mask.
type Ring struct {
	buf        []byte
	format     pcm.Format
	frameBytes int
	capacity   uint64
	mask       uint64

	_          [8]uint64
	write      atomic.Uint64 // Written by producer, read by consumer.
	writeGrant uint64        // Producer only.
	_          [8]uint64
	read       atomic.Uint64 // Written by consumer, read by producer.
	readGrant  uint64        // Consumer only.
	_          [8]uint64
}

// New allocates a ring holding at least capacityFrames frames of format.
// The capacity is rounded up to the next power of two.
func New(format pcm.Format, capacityFrames int) (*Ring, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if capacityFrames <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacityFrames)
	}

	frames := bitint.NextPowerOfTwo(capacityFrames)
	frameBytes := format.BytesPerFrame()
	if frames == 0 || frames > MaxBytes/frameBytes {
		return nil, fmt.Errorf("%w: %d frames of %s exceeds %d bytes", ErrAllocation, capacityFrames, format, MaxBytes)
	}

	buf, err := allocate(frames * frameBytes)
	if err != nil {
		return nil, err
	}

	return &Ring{
		buf:        buf,
		format:     format,
		frameBytes: frameBytes,
		capacity:   uint64(frames),
		mask:       uint64(frames - 1),
	}, nil
}

// allocate converts a makeslice panic into ErrAllocation.
func allocate(n int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("%w: %v", ErrAllocation, r)
		}
	}()
	return make([]byte, n), nil
}

// Format returns the frame layout of the ring.
func (r *Ring) Format() pcm.Format { return r.format }

// Capacity returns the ring size in frames.
func (r *Ring) Capacity() int { return int(r.capacity) }

// Readable returns the number of committed frames not yet consumed.
func (r *Ring) Readable() int {
	return int(r.write.Load() - r.read.Load())
}

// Writable returns the number of free frames.
func (r *Ring) Writable() int {
	return int(r.capacity - (r.write.Load() - r.read.Load()))
}

// AcquireWrite reserves up to requestFrames frames for writing and returns
// the number granted along with the region to fill. The grant is truncated
// to the free space and to the contiguous span before the wrap point.
func (r *Ring) AcquireWrite(requestFrames int) (int, []byte) {
	r.writeGrant = 0
	if requestFrames <= 0 {
		return 0, nil
	}
	w := r.write.Load()
	free := r.capacity - (w - r.read.Load())
	n := r.span(w, free, requestFrames)
	if n == 0 {
		return 0, nil
	}
	r.writeGrant = n
	return int(n), r.region(w, n)
}

// CommitWrite publishes frames written into the last granted region.
func (r *Ring) CommitWrite(frames int) error {
	if frames < 0 || uint64(frames) > r.writeGrant {
		return fmt.Errorf("%w: commit %d, granted %d", ErrCommitExceedsGrant, frames, r.writeGrant)
	}
	r.writeGrant = 0
	r.write.Add(uint64(frames))
	return nil
}

// AcquireRead reserves up to requestFrames committed frames for reading.
func (r *Ring) AcquireRead(requestFrames int) (int, []byte) {
	r.readGrant = 0
	if requestFrames <= 0 {
		return 0, nil
	}
	rd := r.read.Load()
	avail := r.write.Load() - rd
	n := r.span(rd, avail, requestFrames)
	if n == 0 {
		return 0, nil
	}
	r.readGrant = n
	return int(n), r.region(rd, n)
}

// CommitRead releases frames consumed from the last granted region.
func (r *Ring) CommitRead(frames int) error {
	if frames < 0 || uint64(frames) > r.readGrant {
		return fmt.Errorf("%w: commit %d, granted %d", ErrCommitExceedsGrant, frames, r.readGrant)
	}
	r.readGrant = 0
	r.read.Add(uint64(frames))
	return nil
}

// Write copies whole frames from p into the ring, splitting across the wrap
// point when needed, and returns the number of frames written. Frames that
// do not fit are not written.
func (r *Ring) Write(p []byte) int {
	want := len(p) / r.frameBytes
	done := 0
	for pass := 0; pass < 2 && done < want; pass++ {
		n, region := r.AcquireWrite(want - done)
		if n == 0 {
			break
		}
		copy(region, p[done*r.frameBytes:])
		_ = r.CommitWrite(n)
		done += n
	}
	return done
}

// Read copies up to len(p)/BytesPerFrame whole frames out of the ring and
// returns the number of frames read.
func (r *Ring) Read(p []byte) int {
	want := len(p) / r.frameBytes
	done := 0
	for pass := 0; pass < 2 && done < want; pass++ {
		n, region := r.AcquireRead(want - done)
		if n == 0 {
			break
		}
		copy(p[done*r.frameBytes:], region)
		_ = r.CommitRead(n)
		done += n
	}
	return done
}

func (r *Ring) span(cursor, avail uint64, request int) uint64 {
	contiguous := r.capacity - (cursor & r.mask)
	return min(uint64(request), avail, contiguous)
}

func (r *Ring) region(cursor, frames uint64) []byte {
	start := int(cursor&r.mask) * r.frameBytes
	return r.buf[start : start+int(frames)*r.frameBytes]
}
