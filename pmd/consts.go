// Package pmd is the Pool Metadata core: object identity, on-media metadata
// logs (MDCs), object lifecycle, locking, and background compaction for a
// multi-device object-storage mpool. It is the authoritative metadata
// manager described in spec.md; the block-device layer, space map, and
// erasure-coded I/O are external collaborators reached only through the
// interfaces in pmd/smap and pmd/ecio.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package pmd

const (
	// CkptDelta is the checkpoint interval: an objid whose uniq crosses a
	// multiple of CkptDelta must have an OIDCKPT persisted before return
	// (spec §3, I5; §4.1).
	CkptDelta = 256

	// MDCTblSz is the fixed size of the slot-selection table (power of two).
	MDCTblSz = 1024

	// MDCSlots bounds the number of MDCs (including MDC0) an mpool can have.
	MDCSlots = 256

	// MaxRecLen bounds a single packed on-media record (spec §6).
	MaxRecLen = 4096

	// CompactRetryMax bounds retries of the compaction loop (spec §4.3).
	CompactRetryMax = 3

	// MDCSetSz is the allocation granularity when growing the MDC count
	// (spec §4.6) and the credit top-N cutoff.
	MDCSetSz = 8

	// MPMedNumber is the UNAVAIL-drive count at or above which activation fails
	// with InsufficientGood (spec §4.4 step 3).
	MPMedNumber = 4

	// allocRetryMax / allocRetrySleep bound the busy-wait in the alloc path
	// (spec §4.5 step 4, §5 "Cancellation & timeouts"): 1024 * [128,256]us.
	allocRetryMax       = 1024
	allocRetrySleepMinUS = 128
	allocRetrySleepMaxUS = 256
)
