// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import "strings"

// modelSignatures is a small static table of well-known Wiren Board model
// names to the firmware signature their fielded units carry, for the
// `recover --model` path (SPEC_FULL.md §C.1): when a device is stuck in a
// bootloader too old to self-report its signature and has never been seen
// by the identity store, the operator can name the model instead. This is
// deliberately not a remote index - spec.md names no remote-index format,
// so it is out of scope here.
var modelSignatures = map[string]string{
	"WB-MAP3E":  "wbmap3e",
	"WB-MAP6S":  "wbmap6s",
	"WB-MAP12H": "wbmap12h",
	"WB-MAP12E": "wbmap12e",
	"WB-MRM2":   "wbmrm2",
	"WB-MRM2-MINI": "wbmrm2_mini",
	"WB-MSW":    "wbmsw",
	"WB-MSW-V3": "wbmsw3",
	"WB-MR6C":   "wbmr6c",
	"WB-MIO":    "wbmio",
	"WB-MDM3":   "wbmdm3",
	"WB-MCM8":   "wbmcm8",
}

// SignatureForModel maps a model name (as printed on the device or in a
// driver config's device_type) to its firmware signature. The second
// return value is false for unrecognized models - the recover path then
// reports the device as skipped with an unknown signature rather than
// guessing.
func SignatureForModel(model string) (string, bool) {
	sig, ok := modelSignatures[strings.ToUpper(strings.TrimSpace(model))]
	return sig, ok
}
