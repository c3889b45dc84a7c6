// Command mpoolctl is an operator CLI over the PMD core: activate/deactivate
// a local-file-backed mpool, allocate/commit/find/delete objects, and print
// usage — enough to drive the core end to end without a real block-device
// layer. Styled after the teacher's own cmd/cli command table (urfave/cli).
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/moneytech/mpool/cmn/config"
	"github.com/moneytech/mpool/cmn/nlog"
	"github.com/moneytech/mpool/pmd"
	"github.com/moneytech/mpool/pmd/ecio"
	"github.com/moneytech/mpool/pmd/mdcio"
	"github.com/moneytech/mpool/pmd/smap"
)

const (
	zoneBytes   = 1 << 20 // 1 MiB, matches spec §8 scenario 1
	zonesPerDev = 4096
)

func main() {
	app := cli.NewApp()
	app.Name = "mpoolctl"
	app.Usage = "operate a local PMD-backed mpool"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "dir", Value: "./mpool-data", Usage: "backing directory for MDC files"},
	}
	app.Commands = []cli.Command{
		activateCmd,
		usageCmd,
		allocCmd,
		findCmd,
		deleteCmd,
	}
	if err := app.Run(os.Args); err != nil {
		nlog.Errorf("mpoolctl: %v", err)
		os.Exit(1)
	}
}

// openDemoHandle wires a fresh in-process mpool over a FileOpener/InMemory
// smap/Reference ecio triple — the same shape a real deployment would wire,
// but with every external collaborator's reference implementation.
func openDemoHandle(dir string) (*pmd.Handle, error) {
	opener := &mdcio.FileOpener{Dir: dir, Cap: int64(config.Default().MDCNCap)}
	sm := smap.New()
	ec, err := ecio.New(zoneBytes, 1)
	if err != nil {
		return nil, err
	}
	return pmd.NewHandle(config.Default(), opener, sm, ec, zoneBytes), nil
}

var activateCmd = cli.Command{
	Name:  "activate",
	Usage: "activate (or freshly create) the mpool backed by --dir",
	Flags: []cli.Flag{
		cli.BoolFlag{Name: "fresh", Usage: "create a brand-new mpool instead of recovering one"},
		cli.IntFlag{Name: "drives", Value: 1, Usage: "number of demo drives when --fresh"},
	},
	Action: func(c *cli.Context) error {
		h, err := openDemoHandle(c.GlobalString("dir"))
		if err != nil {
			return err
		}
		args := pmd.ActivateArgs{Fresh: c.Bool("fresh")}
		if args.Fresh {
			for i := 0; i < c.Int("drives"); i++ {
				args.Drives = append(args.Drives, &pmd.Drive{
					Handle: pmd.DriveHandle(i + 1), UUID: uuid.New(),
					NumZones: zonesPerDev, Class: 0, State: pmd.DriveActive,
				})
			}
			args.Classes = []*pmd.MediaClass{{ID: 0, Name: "capacity", SmapAlign: 1}}
		}
		if err := h.Activate(args); err != nil {
			return err
		}
		fmt.Println("activated")
		return nil
	},
}

var usageCmd = cli.Command{
	Name:  "usage",
	Usage: "print mpool_usage()",
	Action: func(c *cli.Context) error {
		h, err := openDemoHandle(c.GlobalString("dir"))
		if err != nil {
			return err
		}
		if err := h.Activate(pmd.ActivateArgs{}); err != nil {
			return err
		}
		defer h.Deactivate()
		u := h.Usage()
		fmt.Printf("mblock_cnt=%d mblock_alen=%d mlog_cnt=%d mlog_alen=%d\n",
			u.MblockCnt, u.MblockAlen, u.MlogCnt, u.MlogAlen)
		return nil
	},
}

var allocCmd = cli.Command{
	Name:      "alloc",
	Usage:     "alloc+commit an mblock of the given capacity (bytes)",
	ArgsUsage: "CAPACITY",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("alloc requires CAPACITY", 1)
		}
		capBytes, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		h, err := openDemoHandle(c.GlobalString("dir"))
		if err != nil {
			return err
		}
		if err := h.Activate(pmd.ActivateArgs{}); err != nil {
			return err
		}
		defer h.Deactivate()
		l, err := h.Alloc(pmd.AllocArgs{Type: pmd.OTypeMblock, Capacity: capBytes, Class: 0})
		if err != nil {
			return err
		}
		if err := h.Commit(l.ObjID.Slot(), l); err != nil {
			return err
		}
		fmt.Println(l.ObjID.String())
		return nil
	},
}

var findCmd = cli.Command{
	Name:      "find",
	Usage:     "look up an objid",
	ArgsUsage: "OBJID",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("find requires OBJID", 1)
		}
		raw, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		h, err := openDemoHandle(c.GlobalString("dir"))
		if err != nil {
			return err
		}
		if err := h.Activate(pmd.ActivateArgs{}); err != nil {
			return err
		}
		defer h.Deactivate()
		l, err := h.Find(pmd.ObjID(raw))
		if err != nil {
			return err
		}
		fmt.Printf("drive=%d zone_start=%d zone_count=%d gen=%d\n", l.Drive, l.ZoneStart, l.ZoneCount, l.Gen)
		return nil
	},
}

var deleteCmd = cli.Command{
	Name:      "delete",
	Usage:     "delete an objid",
	ArgsUsage: "OBJID",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("delete requires OBJID", 1)
		}
		raw, err := strconv.ParseUint(c.Args().Get(0), 10, 64)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		h, err := openDemoHandle(c.GlobalString("dir"))
		if err != nil {
			return err
		}
		if err := h.Activate(pmd.ActivateArgs{}); err != nil {
			return err
		}
		defer h.Deactivate()
		id := pmd.ObjID(raw)
		l, err := h.Find(id)
		if err != nil {
			return err
		}
		return h.Delete(id.Slot(), l)
	},
}
