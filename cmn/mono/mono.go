// Package mono gives the pre-compactor and latency bookkeeping a monotonic
// nanosecond clock, matching the teacher's cmn/mono in purpose.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package mono

import "time"

// NR returns a monotonic nanosecond reading suitable only for measuring
// elapsed time against another NR() call, never for wall-clock display.
func NR() int64 { return int64(time.Since(base)) }

// base anchors NR; time.Since reads its monotonic clock component.
var base = time.Now()

// Since returns elapsed time since a prior NR() reading.
func Since(start int64) time.Duration { return time.Duration(NR() - start) }
