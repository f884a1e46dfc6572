// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package release resolves a firmware signature to a concrete release
// build, per spec.md §4.6. Release manifests are YAML: a top-level
// "releases" mapping keyed signature -> suite (stable/testing/unstable) ->
// endpoint path; this gets
// its own viper.New() instance configured for "yaml", independent of
// internal/driverconfig's JSON one.
package release

import (
	"fmt"
	"regexp"

	"github.com/spf13/viper"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
)

// Context selects which slice of the release universe a lookup targets.
type Context struct {
	Suite      string // e.g. "stable", "testing", "unstable"
	Target     string // firmware repo target, e.g. "wb-mrm2-fw"
	RepoPrefix string // base URL the manifest's relative paths are served from
}

// Info is a resolved release: enough to both log what was selected and
// build the final download URL (internal/downloadcache owns fetching it).
type Info struct {
	ReleaseName string
	Suite       string
	Target      string
	RepoPrefix  string
	Version     string
	Path        string
}

// URL joins RepoPrefix and Path the way every other caller of this
// manifest expects a release artifact to be addressed.
func (i Info) URL() string { return i.RepoPrefix + "/" + i.Path }

// versionInPath extracts a "1.2.3" or "1.2.3~rc1"-style segment from a
// manifest path entry, e.g. ".../1.2.3/wb-mrm2-fw.wbfw".
var versionInPath = regexp.MustCompile(`/(\d+\.\d+\.\d+(?:~[A-Za-z0-9]+)?)/`)

// Manifest is a parsed release manifest: firmware signature -> suite ->
// relative path to the latest build published on that suite.
type Manifest struct {
	bySignature map[string]map[string]string
}

// Load reads a YAML manifest file from path.
func Load(path string) (*Manifest, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, &errs.ConfigParsingError{Reason: fmt.Errorf("release: read manifest %s: %w", path, err)}
	}

	var raw map[string]map[string]string
	if err := v.UnmarshalKey("releases", &raw); err != nil {
		return nil, &errs.ConfigParsingError{Reason: fmt.Errorf("release: unmarshal manifest %s: %w", path, err)}
	}
	return &Manifest{bySignature: raw}, nil
}

// Resolve returns the latest release known for fwSignature under ctx.
// Returns *errs.NoReleasedFwError if nothing is published for that
// signature/suite pair, or *errs.VersionParsingError if the manifest
// entry doesn't carry a recognizable version segment.
func (m *Manifest) Resolve(ctx Context, fwSignature string) (Info, error) {
	perSuite, ok := m.bySignature[fwSignature]
	if !ok {
		return Info{}, &errs.NoReleasedFwError{Signature: fwSignature, Suite: ctx.Suite}
	}
	path, ok := perSuite[ctx.Suite]
	if !ok {
		return Info{}, &errs.NoReleasedFwError{Signature: fwSignature, Suite: ctx.Suite}
	}
	match := versionInPath.FindStringSubmatch(path)
	if match == nil {
		return Info{}, &errs.VersionParsingError{Value: path}
	}
	return Info{
		ReleaseName: fwSignature,
		Suite:       ctx.Suite,
		Target:      ctx.Target,
		RepoPrefix:  ctx.RepoPrefix,
		Version:     match[1],
		Path:        path,
	}, nil
}
