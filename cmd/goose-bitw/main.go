// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package main

import (
	"fmt"
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
)

var log = clog.New("bitw")

func usage(prog string) {
	fmt.Fprintf(os.Stderr, "Usage: %s <policy.json> <ifA> <ifB>\n", prog)
}

func main() {
	if len(os.Args) < 4 {
		usage(os.Args[0])
		os.Exit(1)
	}
	polPath, ifA, ifB := os.Args[1], os.Args[2], os.Args[3]

	p, err := policy.LoadPolicy(polPath)
	if err != nil {
		log.Critical("load policy: %v", err)
		os.Exit(2)
	}
	log.Warn("mode=%s stripTag=%v ttl=%dms sqGap=%d maxAge=%dms appId=%d",
		p.Mode, p.StripTag, p.TTLMs, p.MaxSqGap, p.MaxAgeMs, p.Stream.AppID)

	if err := netready.Check(ifA); err != nil {
		log.Critical("%v", err)
		os.Exit(3)
	}
	if err := netready.Check(ifB); err != nil {
		log.Critical("%v", err)
		os.Exit(4)
	}

	capA, err := capture.Open(ifA)
	if err != nil {
		log.Critical("%v", err)
		os.Exit(3)
	}
	defer capA.Close()
	capB, err := capture.Open(ifB)
	if err != nil {
		log.Critical("%v", err)
		os.Exit(4)
	}
	defer capB.Close()

	v, err := goose.NewVerifier(p)
	if err != nil {
		log.Critical("build verifier: %v", err)
		os.Exit(5)
	}

	var running int32 = 1
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		atomic.StoreInt32(&running, 0)
	}()

	for atomic.LoadInt32(&running) == 1 {
		processAndForward(capA, capB, v, p) // A -> B
		processAndForward(capB, capA, v, p) // B -> A
		time.Sleep(5 * time.Millisecond)
	}
}

// processAndForward drains every frame currently queued on rx, applying the
// PTP fast-path, the strict non-GOOSE drop, policy/HMAC verification and
// (if enabled) tag stripping, before injecting onto tx.
func processAndForward(rx, tx *capture.Handle, v *goose.Verifier, p *policy.Policy) {
	for {
		frame, err := rx.ReadPacketData()
		if err != nil {
			return
		}

		if goose.IsPTP(frame) {
			if err := tx.Inject(frame); err != nil {
				log.Warn("inject-ptp: %v", err)
			}
			continue
		}
		if !goose.IsGOOSE(frame) {
			log.Debug("drop non-goose len=%d", len(frame))
			continue
		}

		now := time.Now().UnixMilli()
		meta, verr := v.Verify(frame, now)

		pass := true
		if p.Mode == policy.ModeEnforce {
			pass = verr == nil
		} else if verr != nil {
			log.Debug("monitor ver=%v st=%d sq=%d", verr, meta.StNum, meta.SqNum)
		}
		if !pass {
			log.Warn("drop ver=%v st=%d sq=%d", verr, meta.StNum, meta.SqNum)
			continue
		}

		out := frame
		if p.StripTag {
			pos, length := meta.TagPos, meta.TagLen
			if !(pos > 0 && length > 0) && verr == nil {
				if off, _, err := goose.ParseEther(frame); err == nil {
					if fp, fl, ok := goose.FindTailTLV(frame, off.ApduOff); ok {
						pos, length = fp, fl
						log.Debug("tail-fallback pos=%d len=%d", pos, length)
					}
				}
			}
			if pos > 0 && length > 0 {
				buf := append([]byte(nil), frame...)
				newLen, err := goose.StripTag(buf, pos, length)
				if err != nil {
					log.Warn("strip skipped: %v", err)
				} else {
					out = buf[:newLen]
					log.Debug("strip pos=%d len=%d delta=%d", pos, length, len(frame)-newLen)
				}
			} else {
				log.Debug("strip: no tag candidate")
			}
		}

		if err := tx.Inject(out); err != nil {
			log.Warn("inject: %v", err)
		}
	}
}
