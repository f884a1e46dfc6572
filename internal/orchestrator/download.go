// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/wirenboard/wb-fw-updater/internal/downloadcache"
	"github.com/wirenboard/wb-fw-updater/internal/errs"
	"github.com/wirenboard/wb-fw-updater/internal/release"
)

// VersionRelease and VersionLatest are the two symbolic version labels
// spec.md §4.7's _do_download recognizes; anything else is treated as an
// explicit version string.
const (
	VersionRelease = "release"
	VersionLatest  = "latest"
)

// LatestResolver asks the download source (the same remote store the
// release manifest and firmware artifacts are served from) which version
// is newest on a given branch, per spec.md §6's remote store layout:
// .../by-signature/<signature>/(main|stable|unstable/<branch>)/latest.txt.
type LatestResolver struct {
	Store   downloadcache.RemoteStore
	RootURL string
}

func branchSegment(branch string) string {
	if branch == "" {
		return "main"
	}
	return "unstable/" + branch
}

func artifactExt(mode string) string {
	if mode == "components" {
		return ".compfw"
	}
	return ".wbfw"
}

func artifactURL(rootURL, signature, mode, branch, version string) string {
	return fmt.Sprintf("%s/%s/by-signature/%s/%s/%s%s", rootURL, mode, signature, branchSegment(branch), version, artifactExt(mode))
}

// Latest fetches and trims latest.txt for (signature, mode, branch).
func (r *LatestResolver) Latest(ctx context.Context, signature, mode, branch string) (string, error) {
	url := fmt.Sprintf("%s/%s/by-signature/%s/%s/latest.txt", r.RootURL, mode, signature, branchSegment(branch))
	var buf bytes.Buffer
	if err := r.Store.Fetch(ctx, url, &buf); err != nil {
		return "", &errs.RemoteStorageError{Op: "fetch latest.txt", URL: url, Reason: err}
	}
	v := strings.TrimSpace(buf.String())
	if v == "" {
		return "", &errs.VersionParsingError{Value: ""}
	}
	return v, nil
}

// ResolveDownload implements spec.md §4.7's _do_download: resolve a
// (fwSignature, versionLabel, branch, mode) request to a local artifact
// path, downloading it through cache if it isn't already there. Returns
// the local path and the concrete version string it resolved to.
func ResolveDownload(
	ctx context.Context,
	cache *downloadcache.Cache,
	manifest *release.Manifest,
	relCtx release.Context,
	latest *LatestResolver,
	fwSignature, versionLabel, branch, mode string,
) (path, resolvedVersion string, err error) {
	switch {
	case versionLabel == VersionRelease && branch == "":
		info, err := manifest.Resolve(relCtx, fwSignature)
		if err != nil {
			return "", "", err
		}
		path, err := cache.Ensure(ctx, fwSignature, mode, "main", info.Version, info.URL())
		return path, info.Version, err

	case versionLabel == VersionRelease && branch != "":
		// "release" on an explicit branch has no manifest entry of its
		// own - spec.md §4.7 treats it as "latest" on that branch.
		return resolveLatest(ctx, cache, latest, relCtx.RepoPrefix, fwSignature, branch, mode)

	case versionLabel == VersionLatest:
		return resolveLatest(ctx, cache, latest, relCtx.RepoPrefix, fwSignature, branch, mode)

	default:
		url := artifactURL(relCtx.RepoPrefix, fwSignature, mode, branch, versionLabel)
		path, err := cache.Ensure(ctx, fwSignature, mode, branchSegment(branch), versionLabel, url)
		return path, versionLabel, err
	}
}

func resolveLatest(ctx context.Context, cache *downloadcache.Cache, latest *LatestResolver, rootURL, fwSignature, branch, mode string) (string, string, error) {
	v, err := latest.Latest(ctx, fwSignature, mode, branch)
	if err != nil {
		return "", "", err
	}
	url := artifactURL(rootURL, fwSignature, mode, branch, v)
	path, err := cache.Ensure(ctx, fwSignature, mode, branchSegment(branch), v, url)
	return path, v, err
}
