// Copyright 2019-2021 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hhorai/goosesec/internal/canon"
	"github.com/hhorai/goosesec/internal/capture"
	"github.com/hhorai/goosesec/internal/clog"
	"github.com/hhorai/goosesec/internal/goose"
	"github.com/hhorai/goosesec/internal/goosekey"
	"github.com/hhorai/goosesec/internal/netready"
	"github.com/hhorai/goosesec/internal/policy"
	"github.com/hhorai/goosesec/internal/status"
)

var log = clog.New("pub")

func usage(prog string) {
	fmt.Fprintf(os.Stderr, "Usage: %s <config.json> <iface>\n", prog)
}

func main() {
	if len(os.Args) < 3 {
		usage(os.Args[0])
		os.Exit(1)
	}
	cfgPath, iface := os.Args[1], os.Args[2]

	cfg, err := policy.LoadPublication(cfgPath)
	if err != nil {
		log.Critical("load config: %v", err)
		os.Exit(1)
	}

	if err := netready.Check(iface); err != nil {
		log.Critical("%v", err)
		os.Exit(2)
	}
	srcMAC, err := netready.HardwareAddr(iface)
	if err != nil {
		log.Critical("%v", err)
		os.Exit(2)
	}
	tx, err := capture.Open(iface)
	if err != nil {
		log.Critical("%v", err)
		os.Exit(2)
	}
	defer tx.Close()

	kDevice, err := cfg.Device.KDevice()
	if err != nil {
		log.Critical("%v", err)
		os.Exit(3)
	}
	info := goosekey.BuildInfo(cfg.Device.KDFInfoFmt, cfg.GoID, cfg.GocbRef, cfg.AppID)
	okm, err := goosekey.DeriveOKM(kDevice, info)
	if err != nil {
		log.Critical("derive key: %v", err)
		os.Exit(3)
	}
	truncLen := goosekey.Trunc16
	if cfg.TagLen == 32 {
		truncLen = goosekey.Trunc32
	}

	dataset, err := buildDataset(cfg.Dataset)
	if err != nil {
		log.Critical("dataset: %v", err)
		os.Exit(4)
	}

	var running int32 = 1
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		atomic.StoreInt32(&running, 0)
	}()

	hb := time.Duration(cfg.HeartbeatMs) * time.Millisecond
	if hb <= 0 {
		hb = time.Second
	}

	stNum := uint32(1)
	sqNum := uint32(0)

	statusPath := status.Path("goose", os.Getpid())
	defer status.Remove(statusPath)

	publish := func() error {
		ds := canon.BuildDataset(dataset)
		tagCanon := canon.Build(canon.Tuple{
			GoID:    cfg.GoID,
			GocbRef: cfg.GocbRef,
			AppID:   cfg.AppID,
			StNum:   stNum,
			SqNum:   sqNum,
			DataSet: ds,
		})
		tag := goosekey.ComputeTag(okm, tagCanon, truncLen)

		var srcMACArr [6]byte
		copy(srcMACArr[:], srcMAC)

		frame, err := goose.BuildFrame(goose.FrameParams{
			DstMAC:              cfg.DstMac,
			SrcMAC:              srcMACArr,
			VlanID:              cfg.VlanID,
			VlanPriority:        cfg.VlanPriority,
			AppID:               cfg.AppID,
			GocbRef:             cfg.GocbRef,
			TimeAllowedToLiveMs: cfg.TimeAllowedToLiveMs,
			DatSet:              cfg.DatSet,
			GoID:                cfg.GoID,
			ConfRev:             cfg.ConfRev,
			NdsCom:              cfg.NdsCom,
			Test:                cfg.Test,
			StNum:               stNum,
			SqNum:               sqNum,
			Dataset:             dataset,
			Tag:                 tag,
		})
		if err != nil {
			return err
		}
		if err := tx.Inject(frame); err != nil {
			return err
		}
		return status.Write(statusPath, status.Record{
			PID:         os.Getpid(),
			StNum:       stNum,
			SqNum:       sqNum,
			LastPublish: time.Now().Unix(),
		})
	}

	if err := publish(); err != nil {
		log.Error("publish: %v", err)
	}

	for atomic.LoadInt32(&running) == 1 {
		time.Sleep(hb)
		if atomic.LoadInt32(&running) == 0 {
			break
		}
		sqNum++
		if err := publish(); err != nil {
			log.Error("publish: %v", err)
		}
	}
}

// buildDataset converts the configuration's typed dataset fields into the
// canon.DataField slice the encoder and canonicalizer both consume.
func buildDataset(fields []policy.DataField) ([]canon.DataField, error) {
	out := make([]canon.DataField, 0, len(fields))
	for _, f := range fields {
		switch f.Type {
		case policy.FieldBoolean:
			v, err := f.BoolValue()
			if err != nil {
				return nil, err
			}
			out = append(out, canon.DataField{Type: canon.Boolean, Bool: v})
		case policy.FieldInteger:
			v, err := f.IntValue()
			if err != nil {
				return nil, err
			}
			out = append(out, canon.DataField{Type: canon.Integer, Int32: v})
		case policy.FieldBinaryTime:
			v, err := f.TimeMsValue()
			if err != nil {
				return nil, err
			}
			raw := make([]byte, 8)
			binary.BigEndian.PutUint64(raw, v)
			out = append(out, canon.DataField{Type: canon.Other, Raw: raw})
		default:
			return nil, fmt.Errorf("publisher: dataset field %q: unknown type %q", f.Name, f.Type)
		}
	}
	return out, nil
}
