package trace

import "strings"

// WrapperPairs returns the ancestor xpaths that must follow a change of a
// target's xpath from recorded to live, as (recorded, live) pairs from the
// innermost container outward.
//
// Pairs exist only when the last steps of both paths agree, meaning the
// same kind of element now sits under different containers. Prefixes are
// taken by dropping the same number of trailing steps from both paths and
// stop at the first pair that already agrees.
func WrapperPairs(recorded, live string) [][2]string {
	if recorded == live {
		return nil
	}
	rs := strings.Split(recorded, "/")
	ls := strings.Split(live, "/")
	if rs[len(rs)-1] == "" || rs[len(rs)-1] != ls[len(ls)-1] {
		return nil
	}
	var pairs [][2]string
	for k := 1; k < len(rs) && k < len(ls); k++ {
		rp := strings.Join(rs[:len(rs)-k], "/")
		lp := strings.Join(ls[:len(ls)-k], "/")
		if rp == "" || lp == "" || rp == lp {
			break
		}
		pairs = append(pairs, [2]string{rp, lp})
	}
	return pairs
}
