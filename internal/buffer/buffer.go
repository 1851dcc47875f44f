// Package buffer implements the Resident Packet Buffer (C1): a
// fixed-size, page-locked circular array of 188-byte packet slots with
// parallel metadata slots. It provides raw indexed access only — window
// ownership and synchronization are the Window Ledger's job (internal/ledger).
package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tsduckgo/tsp/internal/tspacket"
	"github.com/shirou/gopsutil/v4/mem"
)

// ErrAllocation is returned when the resident region cannot be reserved.
var ErrAllocation = errors.New("packet buffer: allocation failed")

// maxLockFraction is the largest share of total system memory the
// allocator will attempt to mlock without first warning and skipping
// the syscall outright (§4.1, §12.6).
const maxLockFraction = 0.80

// Config configures the resident packet buffer.
type Config struct {
	// SlotCount is the ring capacity in packets (N_slots, §3).
	SlotCount int
	// LockMemory requests page-locking; the buffer falls back to
	// unlocked memory with a logged warning if the host refuses or if
	// the requested region looks too large relative to available RAM.
	LockMemory bool
	Logger     *slog.Logger
}

// Buffer is the resident ring of packet slots and parallel metadata.
// It performs no synchronization of its own: callers (internal/ledger)
// serialize all window mutation through the ledger mutex, and a given
// slot is read or written by at most one stage at a time by
// construction (§4.1).
type Buffer struct {
	slots    []byte               // SlotCount * tspacket.PacketSize, contiguous
	meta     []tspacket.Metadata  // SlotCount
	n        int
	locked   bool
	logger   *slog.Logger
}

// New allocates a new resident packet buffer of the requested slot
// count. It attempts to page-lock the region when cfg.LockMemory is
// set, falling back to unlocked memory with a warning if the host
// refuses (§4.1). Returns ErrAllocation if the region cannot be
// reserved at all.
func New(cfg Config) (*Buffer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SlotCount <= 0 {
		return nil, fmt.Errorf("%w: slot count must be positive, got %d", ErrAllocation, cfg.SlotCount)
	}

	size := int64(cfg.SlotCount) * tspacket.PacketSize
	slots := make([]byte, size)
	if slots == nil {
		return nil, ErrAllocation
	}

	b := &Buffer{
		slots:  slots,
		meta:   make([]tspacket.Metadata, cfg.SlotCount),
		n:      cfg.SlotCount,
		logger: cfg.Logger,
	}

	if cfg.LockMemory {
		b.locked = tryLockRegion(context.Background(), cfg.Logger, slots, size)
	}

	return b, nil
}

// tryLockRegion decides whether to attempt mlock at all (consulting
// host memory via gopsutil, §12.6) and performs the platform-specific
// lock (§12.7) if it does.
func tryLockRegion(ctx context.Context, logger *slog.Logger, region []byte, size int64) bool {
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		fraction := float64(size) / float64(vm.Total)
		if fraction > maxLockFraction {
			logger.Warn("skipping page-lock: buffer size exceeds safe fraction of available memory",
				slog.Int64("buffer_bytes", size),
				slog.Uint64("total_memory_bytes", vm.Total),
				slog.Float64("fraction", fraction))
			return false
		}
	} else {
		logger.Debug("could not query host memory before page-lock attempt", slog.String("error", err.Error()))
	}

	if err := lockMemory(region); err != nil {
		logger.Warn("failed to page-lock packet buffer, falling back to unlocked memory", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Close unlocks the region (if locked). It does not free the
// underlying slice — that is left to the garbage collector once the
// supervisor drops its reference.
func (b *Buffer) Close() {
	if b.locked {
		if err := unlockMemory(b.slots); err != nil {
			b.logger.Debug("failed to unlock packet buffer region", slog.String("error", err.Error()))
		}
		b.locked = false
	}
}

// SlotCount returns N_slots.
func (b *Buffer) SlotCount() int { return b.n }

// Locked reports whether the region is currently page-locked.
func (b *Buffer) Locked() bool { return b.locked }

// Packet returns the packet view of slot index i (mod N_slots implied
// by caller — the ledger is responsible for wrapping indices).
func (b *Buffer) Packet(i int) tspacket.Packet {
	off := i * tspacket.PacketSize
	return tspacket.Packet{Bytes: b.slots[off : off+tspacket.PacketSize]}
}

// Metadata returns a pointer to the metadata record of slot index i,
// allowing in-place mutation by the stage that currently owns it.
func (b *Buffer) Metadata(i int) *tspacket.Metadata {
	return &b.meta[i]
}

// ResetSlot clears a slot's metadata so a recycled slot carries no
// labels, flags or timestamp from its previous packet. The packet
// bytes, sync byte included, are left as they are; the next write
// overwrites them.
func (b *Buffer) ResetSlot(i int) {
	b.meta[i].Reset()
}
