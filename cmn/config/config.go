// Package config holds the mpool handle's configuration knobs (spec §6)
// and loads/validates them the way the teacher's cmn.Config does — a plain
// struct, JSON-decoded with jsoniter, with a Validate step that clamps the
// pre-compactor period and rejects other out-of-range tunables.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package config

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/moneytech/mpool/cmn/cos"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config is the set of tunables carried on every mpool handle (spec §6).
type Config struct {
	ObjLoadJobs     int `json:"obj_load_jobs"`     // parallel-activation worker count
	MDCNCap         int `json:"mdc_ncap"`          // target capacity for each newly-allocated MDC mlog
	PcoPctFull      int `json:"pco_pct_full"`      // per-MDC compaction trigger: fill %
	PcoPctGarbage   int `json:"pco_pct_garbage"`   // per-MDC compaction trigger: garbage %
	CrtMDCPctFull   int `json:"crt_mdc_pct_full"`  // global new-MDC trigger: usage %
	CrtMDCPctGrbg   int `json:"crt_mdc_pct_grbg"`  // global new-MDC trigger: garbage %
	PcoPeriod       int `json:"pco_period"`        // pre-compactor tick seconds, clamped [1,3600]
	PconbNoAlloc    int `json:"pconb_no_alloc"`     // MDCs after compaction target excluded from allocation
}

// Default mirrors the values the scenarios in spec §8 assume unless a test
// overrides them.
func Default() *Config {
	return &Config{
		ObjLoadJobs:   4,
		MDCNCap:       8 << 20, // 8 MiB per newly-allocated MDC mlog
		PcoPctFull:    75,
		PcoPctGarbage: 33,
		CrtMDCPctFull: 80,
		CrtMDCPctGrbg: 20,
		PcoPeriod:     60,
		PconbNoAlloc:  1,
	}
}

// Validate clamps pcoperiod into [1,3600] (spec §4.6) and rejects
// structurally impossible values (job counts below 1, triggers outside
// [0,100]%).
func (c *Config) Validate() error {
	if c.PcoPeriod < 1 {
		c.PcoPeriod = 1
	} else if c.PcoPeriod > 3600 {
		c.PcoPeriod = 3600
	}
	if c.ObjLoadJobs < 1 {
		return cos.Errf(cos.InvalidArg, nil, "obj_load_jobs must be >= 1, got %d", c.ObjLoadJobs)
	}
	for name, pct := range map[string]int{
		"pco_pct_full": c.PcoPctFull, "pco_pct_garbage": c.PcoPctGarbage,
		"crt_mdc_pct_full": c.CrtMDCPctFull, "crt_mdc_pct_grbg": c.CrtMDCPctGrbg,
	} {
		if pct < 0 || pct > 100 {
			return cos.Errf(cos.InvalidArg, nil, "%s must be in [0,100], got %d", name, pct)
		}
	}
	return nil
}

func Load(data []byte) (*Config, error) {
	c := Default()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, cos.Errf(cos.InvalidArg, err, "decoding config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Marshal() ([]byte, error) { return json.Marshal(c) }
