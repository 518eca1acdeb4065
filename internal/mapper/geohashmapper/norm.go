package geohashmapper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mohammed-shakir/geohash-spatial-index/internal/core/model"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/cover"
	"github.com/mohammed-shakir/geohash-spatial-index/pkg/geohash"
)

// normalize projects a variable-length cover onto one geohash length.
// Coarser codes expand into all their children at the target length;
// finer codes collapse onto their prefix. The result is sorted and
// de-duplicated.
func normalize(set cover.Set, length int) model.Cells {
	seen := make(map[string]struct{}, len(set))
	for code := range set {
		if len(code) >= length {
			seen[code[:length]] = struct{}{}
			continue
		}
		pending := []string{code}
		for len(pending) > 0 {
			c := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			if len(c) == length {
				seen[c] = struct{}{}
				continue
			}
			pending = append(pending, geohash.SubHashes(c)...)
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ToParent truncates a cell to a coarser length.
func (m *Mapper) ToParent(cell string, parentLen int) (string, error) {
	if parentLen < 1 || parentLen > geohash.MaxLength {
		return "", fmt.Errorf("invalid geohash length %d (must be 1..%d)", parentLen, geohash.MaxLength)
	}
	if _, err := geohash.DecodeBBox(cell); err != nil {
		return "", fmt.Errorf("parse cell: %w", err)
	}
	if parentLen > len(cell) {
		return "", fmt.Errorf("parentLen %d must be <= cell length %d", parentLen, len(cell))
	}
	return cell[:parentLen], nil
}

// ToChildren enumerates the descendants of a cell at a finer length.
func (m *Mapper) ToChildren(cell string, childLen int) (model.Cells, error) {
	if childLen < 1 || childLen > geohash.MaxLength {
		return nil, fmt.Errorf("invalid geohash length %d (must be 1..%d)", childLen, geohash.MaxLength)
	}
	if _, err := geohash.DecodeBBox(cell); err != nil {
		return nil, fmt.Errorf("parse cell: %w", err)
	}
	if childLen < len(cell) {
		return nil, fmt.Errorf("childLen %d must be >= cell length %d", childLen, len(cell))
	}
	if childLen == len(cell) {
		return model.Cells{cell}, nil
	}

	out := []string{cell}
	for l := len(cell); l < childLen; l++ {
		next := make([]string, 0, len(out)*32)
		for _, c := range out {
			next = append(next, geohash.SubHashes(c)...)
		}
		out = next
	}
	sort.Strings(out)
	return out, nil
}

// ChildrenOf reports whether child sits under parent in the hierarchy.
func ChildrenOf(parent, child string) bool {
	return len(child) >= len(parent) && strings.HasPrefix(child, parent)
}
