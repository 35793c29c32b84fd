// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package main

import (
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hhorai/goosesec/internal/capture"
	"github.com/hhorai/goosesec/internal/clog"
	"github.com/hhorai/goosesec/internal/goose"
	"github.com/hhorai/goosesec/internal/netready"
	"github.com/hhorai/goosesec/internal/policy"
	"github.com/hhorai/goosesec/internal/status"
	"github.com/hhorai/goosesec/internal/trip"
)

var log = clog.New("sub")

func usage(prog string) {
	fmt.Fprintf(os.Stderr, "Usage: %s <subscription.json> <iface>\n", prog)
}

func main() {
	if len(os.Args) < 3 {
		usage(os.Args[0])
		os.Exit(1)
	}
	cfgPath, iface := os.Args[1], os.Args[2]

	sub, err := policy.LoadSubscription(cfgPath)
	if err != nil {
		log.Critical("load config: %v", err)
		os.Exit(1)
	}
	tl, err := policy.LoadTripLogic(sub.TripLogicPath)
	if err != nil {
		log.Critical("load trip logic: %v", err)
		os.Exit(1)
	}

	if err := netready.Check(iface); err != nil {
		log.Critical("%v", err)
		os.Exit(2)
	}
	rx, err := capture.Open(iface)
	if err != nil {
		log.Critical("%v", err)
		os.Exit(2)
	}
	defer rx.Close()

	// The subscriber reuses Verifier for appId/HMAC checks with the
	// freshness window's sqNum-gap and age limits set to their maxima. The
	// window still rejects a repeated or lower sqNum within one stNum and a
	// lower stNum; such frames reach the trip FSM as invalid.
	pol := &policy.Policy{
		Mode:     policy.ModeMonitor,
		MaxSqGap: math.MaxUint32,
		MaxAgeMs: math.MaxInt64,
		Device:   sub.Device,
		Stream: policy.Stream{
			Name:    sub.Name,
			AppID:   sub.AppID,
			GocbRef: sub.GocbRef,
		},
	}
	v, err := goose.NewVerifier(pol)
	if err != nil {
		log.Critical("build verifier: %v", err)
		os.Exit(3)
	}

	fsm := trip.NewFSM(tl)
	var resetFlag trip.ResetFlag

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGUSR1)
	go func() {
		for range sigc {
			resetFlag.Request()
		}
	}()

	var running int32 = 1
	termc := make(chan os.Signal, 1)
	signal.Notify(termc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-termc
		atomic.StoreInt32(&running, 0)
	}()

	statusPath := status.Path("goose-sub", os.Getpid())
	defer status.Remove(statusPath)

	relearnTick := time.NewTicker(time.Second)
	defer relearnTick.Stop()

	for atomic.LoadInt32(&running) == 1 {
		if resetFlag.TakeAndClear() {
			fsm.Reset()
			log.Warn("manual reset applied")
		}

		drained := false
		for {
			frame, err := rx.ReadPacketData()
			if err != nil {
				break
			}
			drained = true

			if !goose.IsGOOSE(frame) {
				continue
			}
			now := time.Now().UnixMilli()
			meta, verr := v.Verify(frame, now)
			if meta.AppID != sub.AppID || meta.AppID == 0 {
				continue
			}

			ds := decodeDataset(frame)
			result := fsm.Observe(meta.StNum, meta.SqNum, verr == nil, now, ds)
			if verr != nil {
				log.Debug("reject ver=%v st=%d sq=%d", verr, meta.StNum, meta.SqNum)
			}
			if result.Trip {
				log.Warn("trip state=%s reason=%s st=%d sq=%d", result.State, result.TripReason, meta.StNum, meta.SqNum)
			}

			valid := result.Valid
			trp := result.Trip
			if err := status.Write(statusPath, status.Record{
				PID:        os.Getpid(),
				StNum:      meta.StNum,
				SqNum:      meta.SqNum,
				LastRecvMs: now,
				LastUpdate: now,
				Valid:      &valid,
				Trip:       &trp,
				TripReason: result.TripReason,
			}); err != nil {
				log.Error("status write: %v", err)
			}
		}

		select {
		case <-relearnTick.C:
			fsm.MaybeRelearnBaseline(time.Now().UnixMilli())
		default:
		}

		if !drained {
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// decodeDataset converts a received frame's allData entries into the
// positionally-indexed dataset the trip FSM's rules reference. The trailing
// authentication tag entry is skipped so rule indices line up with the
// publisher's configured dataset, not the wire-appended tag.
func decodeDataset(frame []byte) trip.Dataset {
	off, _, err := goose.ParseEther(frame)
	if err != nil {
		return nil
	}
	elems, err := goose.DecodeAllData(frame, off.ApduOff)
	if err != nil {
		return nil
	}
	var out trip.Dataset
	for _, e := range elems {
		switch e.Tag {
		case goose.BoolElementTag:
			var b bool
			if len(e.Raw) > 0 && e.Raw[len(e.Raw)-1] != 0 {
				b = true
			}
			out = append(out, trip.Element{Type: trip.ElementBool, Bool: b})
		case goose.IntElementTag:
			var v int32
			for _, c := range e.Raw {
				v = v<<8 | int32(c)
			}
			out = append(out, trip.Element{Type: trip.ElementInt, Int32: v})
		case goose.TagElementTag:
			// the authentication tag is not a dataset value
		default:
			out = append(out, trip.Element{Type: trip.ElementOther})
		}
	}
	return out
}
