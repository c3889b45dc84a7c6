// Package upg is the external collaborator named in spec §6 as
// upg_ver_cmp/upg_mdccver_latest/upg_mdccver2str: comparison of on-media
// metadata content-version strings (mdccver). These are dotted 4-field
// versions (e.g. "1.0.0.1"), not 3-field SemVer, so golang.org/x/mod/semver
// (which only parses "vMAJOR.MINOR.PATCH") cannot represent the 4th field
// spec §4.3 checks against ("target version >= 1.0.0.1") — this package is
// therefore a small stdlib comparator rather than a wrapped dependency;
// justified because no library in the pack (or golang.org/x) models a
// 4-component version scheme.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package upg

import (
	"strconv"
	"strings"
)

// latest is the mdccver this binary writes when it compacts a slot.
const latest = "1.0.0.1"

func Latest() string { return latest }

// Cmp compares two dotted-integer version strings field by field, missing
// trailing fields treated as 0. Returns -1, 0, 1 like strings.Compare.
func Cmp(a, b string) int {
	af, bf := fields(a), fields(b)
	n := len(af)
	if len(bf) > n {
		n = len(bf)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(af) {
			x = af[i]
		}
		if i < len(bf) {
			y = bf[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

func fields(v string) []int {
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, _ := strconv.Atoi(p)
		out[i] = n
	}
	return out
}

// ToStr is a passthrough kept for call-site parity with
// upg_mdccver2str — the version is already a string in this
// implementation.
func ToStr(v string) string { return v }
