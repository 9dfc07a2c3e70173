// Package fingerprint derives stable digests of the inputs that affect a node's price.
package fingerprint

import (
	"sort"
	"strconv"
	"strings"

	"github.com/noah-isme/backend-booking/internal/common"
	"github.com/noah-isme/backend-booking/internal/selection"
)

// Version is bumped whenever the canonical form changes.
const Version = 1

// Of returns the digest of the price-relevant fields of in: kind, unit,
// parent, effective window, readiness and quantities. Map ordering never
// affects the result.
func Of(in selection.PriceInput) string {
	var b strings.Builder
	b.WriteString("v")
	b.WriteString(strconv.Itoa(Version))
	b.WriteByte('|')
	b.WriteString(in.Kind.String())
	b.WriteByte('|')
	b.WriteString(strings.ToLower(strings.TrimSpace(in.UnitID)))
	b.WriteByte('|')
	b.WriteString(in.ParentID)
	b.WriteByte('|')
	if in.Ready {
		b.WriteString(in.Window.String())
	} else {
		b.WriteString("-")
	}
	b.WriteByte('|')
	params := make([]string, 0, len(in.Quantities))
	for param, qty := range in.Quantities {
		if qty == 0 {
			continue
		}
		params = append(params, param)
	}
	sort.Strings(params)
	for _, param := range params {
		b.WriteString(param)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(in.Quantities[param]))
		b.WriteByte(';')
	}
	return common.Sha256Hex(b.String())
}

// Tracker remembers the last fingerprint seen per node.
type Tracker struct {
	prints map[selection.NodeKey]string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{prints: map[selection.NodeKey]string{}}
}

// Change is a node whose fingerprint differs from the stored one.
type Change struct {
	Input       selection.PriceInput
	Fingerprint string
}

// Diff compares inputs with the stored fingerprints and records the new ones.
// It returns the nodes that changed or appeared and the keys of nodes that are
// no longer present. Nodes that did not change are omitted.
func (t *Tracker) Diff(inputs []selection.PriceInput) (dirty []Change, removed []selection.NodeKey) {
	seen := make(map[selection.NodeKey]struct{}, len(inputs))
	for _, in := range inputs {
		seen[in.Key] = struct{}{}
		fp := Of(in)
		if prev, ok := t.prints[in.Key]; ok && prev == fp {
			continue
		}
		t.prints[in.Key] = fp
		dirty = append(dirty, Change{Input: in, Fingerprint: fp})
	}
	for key := range t.prints {
		if _, ok := seen[key]; !ok {
			removed = append(removed, key)
			delete(t.prints, key)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return dirty, removed
}

// Current returns the stored fingerprint of key.
func (t *Tracker) Current(key selection.NodeKey) (string, bool) {
	fp, ok := t.prints[key]
	return fp, ok
}

// Matches reports whether fp is still the stored fingerprint of key.
func (t *Tracker) Matches(key selection.NodeKey, fp string) bool {
	current, ok := t.prints[key]
	return ok && current == fp
}

// Len returns the number of tracked nodes.
func (t *Tracker) Len() int {
	return len(t.prints)
}

// Forget drops the stored fingerprint of key so the next Diff reports it dirty.
func (t *Tracker) Forget(key selection.NodeKey) {
	delete(t.prints, key)
}
