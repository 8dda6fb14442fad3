// Package bucket implements the deterministic randomization contract:
// mapping a stable per-device identifier to a position in an experiment's
// assignment space, and walking branch ratios to pick a variant.
//
// Everything here is a pure function of its inputs. Identical inputs must
// produce identical assignments across processes, host OS versions, and
// architectures; the golden tests in this package pin the contract.
package bucket

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/perchlabs/fieldtrial/experiment"
)

// Domain prefixes for point derivation. The version suffix is part of the
// wire contract: changing the hash, the separators, or Resolution requires
// a version bump here, since persisted assignments depend on them.
const (
	// DomainMembership scopes points used for population sampling.
	DomainMembership = "fieldtrial/bucket/v1"

	// DomainBranch scopes points used for branch assignment. Separate from
	// DomainMembership so an experiment whose namespace equals its slug
	// still gets independent membership and branch draws.
	DomainBranch = "fieldtrial/branch/v1"
)

// Resolution is the size of the branch-assignment space. Cumulative branch
// ratios are scaled to [0, Resolution); at 10000 the granularity error of a
// ratio boundary is at most one part in ten thousand.
const Resolution = 10000

// Point computes a device's position in a domain's assignment space.
// Format: big-endian uint32 from the first 4 bytes of
// SHA256(domain + (0x00 + part)...). The null separator prevents
// part-boundary ambiguity.
func Point(domain string, parts ...string) uint32 {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

// EmptyRatiosError reports an experiment whose branch ratios sum to zero,
// leaving no branch assignable.
type EmptyRatiosError struct {
	Slug string
}

func (e *EmptyRatiosError) Error() string {
	return fmt.Sprintf("bucket: branch ratios for experiment %q sum to zero", e.Slug)
}

// InvalidRatioError reports a branch with a negative ratio.
type InvalidRatioError struct {
	Slug   string
	Branch string
	Ratio  int
}

func (e *InvalidRatioError) Error() string {
	return fmt.Sprintf("bucket: branch %q of experiment %q has negative ratio %d", e.Branch, e.Slug, e.Ratio)
}

// OutOfBoundsError reports a bucket configuration whose range cannot be
// mapped into its total, or a computed point that cannot be placed.
type OutOfBoundsError struct {
	Namespace string
	Start     int
	Count     int
	Total     int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("bucket: range [%d, %d+%d) does not fit total %d in namespace %q",
		e.Start, e.Start, e.Count, e.Total, e.Namespace)
}

// InRange reports whether the device identified by value falls inside the
// experiment's population slice. The point is reduced modulo cfg.Total, so
// membership is uniform over [0, Total).
func InRange(cfg experiment.BucketConfig, value string) (bool, error) {
	if cfg.Total <= 0 || cfg.Start < 0 || cfg.Count < 0 || cfg.Start+cfg.Count > cfg.Total {
		return false, &OutOfBoundsError{
			Namespace: cfg.Namespace,
			Start:     cfg.Start,
			Count:     cfg.Count,
			Total:     cfg.Total,
		}
	}
	p := int(Point(DomainMembership, cfg.Namespace, value) % uint32(cfg.Total))
	return p >= cfg.Start && p < cfg.Start+cfg.Count, nil
}

// Choose assigns the device identified by value to one of the experiment's
// branches. Branches are walked in order, accumulating ratios scaled to
// Resolution; the first branch whose cumulative threshold exceeds the
// device's point wins. Ratio [1,1] therefore splits the space evenly and
// [1,2,1] gives the middle branch half.
func Choose(slug, value string, branches []experiment.Branch) (string, error) {
	sum := 0
	for _, b := range branches {
		if b.Ratio < 0 {
			return "", &InvalidRatioError{Slug: slug, Branch: b.Slug, Ratio: b.Ratio}
		}
		sum += b.Ratio
	}
	if sum == 0 {
		return "", &EmptyRatiosError{Slug: slug}
	}

	p := int(Point(DomainBranch, slug, value) % Resolution)
	acc := 0
	for _, b := range branches {
		acc += b.Ratio
		if p < acc*Resolution/sum {
			return b.Slug, nil
		}
	}
	// Unreachable: the final threshold is exactly Resolution and p < Resolution.
	return "", &OutOfBoundsError{Namespace: slug, Start: p, Count: 0, Total: Resolution}
}
