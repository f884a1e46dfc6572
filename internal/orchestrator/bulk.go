// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package orchestrator

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/wirenboard/wb-fw-updater/internal/identitystore"
	"github.com/wirenboard/wb-fw-updater/internal/prober"
)

// BulkResult is one device's outcome from UpdateAll or RecoverAll,
// reported independently of every other device's - a panic or a hard
// error on one port must never take down the others (spec.md §5).
type BulkResult struct {
	Port    string
	Device  string
	Outcome prober.Outcome
	Flash   FlashOutcome
	Err     error
}

// portGroup is every ProbeSpec that shares a serial port. Devices within a
// group are probed and flashed strictly in slice order - the
// Instrument-per-device, shared-line-per-port design of internal/transport
// already serializes their wire transactions; this just keeps the higher
// level logic (decide, confirm, flash) in the same order too.
type portGroup struct {
	port  string
	specs []prober.ProbeSpec
}

func groupByPort(specs []prober.ProbeSpec) []portGroup {
	order := make([]string, 0)
	byPort := make(map[string][]prober.ProbeSpec)
	for _, spec := range specs {
		if _, ok := byPort[spec.Port]; !ok {
			order = append(order, spec.Port)
		}
		byPort[spec.Port] = append(byPort[spec.Port], spec)
	}
	groups := make([]portGroup, 0, len(order))
	for _, port := range order {
		groups = append(groups, portGroup{port: port, specs: byPort[port]})
	}
	return groups
}

// runPerPort probes one port's devices (in order) and calls work on each
// result, one worker goroutine per port (spec.md §5: "Different ports MAY
// be driven in parallel"; devices within a port stay sequential since
// prober.ProbeAll walks g.specs in order). A panicking worker does not stop
// the other ports' workers; conc/pool re-raises its panic from Wait once
// they have finished.
func runPerPort(ctx context.Context, specs []prober.ProbeSpec, identity *identitystore.Store, work func(ctx context.Context, result prober.Result) BulkResult) []BulkResult {
	groups := groupByPort(specs)

	var mu sync.Mutex
	var results []BulkResult

	p := pool.New().WithMaxGoroutines(maxInt(1, len(groups)))
	for _, g := range groups {
		g := g
		p.Go(func() {
			probed, probeErr := prober.ProbeAll(ctx, g.specs, identity)
			for idx, result := range probed {
				br := work(ctx, result)
				br.Port = g.port
				if result.Device != nil {
					br.Device = result.Device.Ident()
				} else {
					br.Device = g.specs[idx].Name
				}
				br.Outcome = result.Outcome
				mu.Lock()
				results = append(results, br)
				mu.Unlock()
			}
			if probeErr != nil {
				mu.Lock()
				results = append(results, BulkResult{Port: g.port, Err: probeErr})
				mu.Unlock()
			}
		})
	}
	p.Wait()

	return results
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// UpdateAll implements spec.md §4.7/§5's update-all: probe every
// configured device and, for every one found Alive, run Execute against
// it with req. Devices in any other outcome are reported with their
// Outcome and a nil Flash/Err - update-all is not a recovery command.
func (e *Executor) UpdateAll(ctx context.Context, specs []prober.ProbeSpec, identity *identitystore.Store, req FlashRequest) []BulkResult {
	return runPerPort(ctx, specs, identity, func(ctx context.Context, result prober.Result) BulkResult {
		if result.Outcome != prober.Alive {
			return BulkResult{}
		}
		outcome, err := e.Execute(ctx, result.Device, result.FWSignature, prober.IdentityKey(result.Device.Port, result.Device.SlaveID), req)
		return BulkResult{Flash: outcome, Err: err}
	})
}

// RecoverAll implements spec.md §4.7/§5's recover-all: probe every
// configured device and, for every one found in_bootloader, run
// RecoverDevice against it. model is passed through to every device's
// --model fallback; pass "" when the fleet has no common model hint.
func (e *Executor) RecoverAll(ctx context.Context, specs []prober.ProbeSpec, identity *identitystore.Store, model string, req FlashRequest) []BulkResult {
	return runPerPort(ctx, specs, identity, func(ctx context.Context, result prober.Result) BulkResult {
		if result.Outcome != prober.InBootloader {
			return BulkResult{}
		}
		outcome, err := e.RecoverDevice(ctx, result, model, req)
		return BulkResult{Flash: outcome, Err: err}
	})
}
