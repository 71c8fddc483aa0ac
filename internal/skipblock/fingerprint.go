package skipblock

import (
	"fmt"
	"unicode/utf16"

	"github.com/roach88/harvest/internal/ir"
)

// Pair is one (attribute, value) entry of a fingerprint.
type Pair struct {
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
}

// Fingerprint is an ordered list of pairs, enclosing blocks first.
type Fingerprint []Pair

// Compute evaluates b's items in env and appends them to the fingerprint
// of the enclosing blocks.
func Compute(b *ir.SkipBlock, env *ir.Env, enclosing Fingerprint) (Fingerprint, error) {
	fp := make(Fingerprint, 0, len(enclosing)+len(b.Items))
	fp = append(fp, enclosing...)
	for _, item := range b.Items {
		v, err := item.Value.Eval(env)
		if err != nil {
			return nil, fmt.Errorf("skip block %s item %s: %w", b.Name, item.Attribute, err)
		}
		fp = append(fp, Pair{Attribute: item.Attribute, Value: v})
	}
	return fp, nil
}

// Canonical is the canonical JSON form: a list of [attribute, value].
func (f Fingerprint) Canonical() []byte {
	l := make(ir.List, len(f))
	for i, p := range f {
		l[i] = ir.Strings(p.Attribute, p.Value)
	}
	data, err := ir.MarshalCanonical(l)
	if err != nil {
		// Strings always encode.
		panic(err)
	}
	return data
}

func (f Fingerprint) String() string { return string(f.Canonical()) }

// Key identifies the fingerprint within one block for storage.
func (f Fingerprint) Key(blockID string) string {
	data, _ := ir.MarshalCanonical(ir.List{ir.Str(blockID), ir.Str(f.String())})
	return ir.FingerprintKey(data)
}

// StringHash is the 31-multiplier hash over UTF-16 code units used for
// partitioning, wrapped to 32 bits.
func StringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}

// Partition assigns a worker an equal slice of the unsigned 32-bit range.
type Partition struct {
	Workers int `json:"workers" yaml:"workers"`
	Index   int `json:"index" yaml:"index"`
}

// Valid reports whether the partition names a real worker.
func (p Partition) Valid() bool {
	return p.Workers > 0 && p.Index >= 0 && p.Index < p.Workers
}

// SliceOf returns which of n slices the unsigned hash of s falls in.
func SliceOf(s string, n int) int {
	if n <= 1 {
		return 0
	}
	h := uint64(uint32(StringHash(s)))
	width := (uint64(1) << 32) / uint64(n)
	idx := int(h / width)
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// IsThisMyWorkBasedOnHash reports whether the worker at p.Index owns the
// transaction s.
func IsThisMyWorkBasedOnHash(s string, p Partition) bool {
	if p.Workers <= 1 {
		return true
	}
	return SliceOf(s, p.Workers) == p.Index
}
