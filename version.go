package torctl

import (
	"strconv"
	"strings"
)

// versionSegments splits a Tor version string like "0.4.7.13-alpha" into its
// numeric dotted components, stopping at the first non-numeric segment. Both
// "." and "-" are treated as separators, matching how Tor formats
// pre-release suffixes.
func versionSegments(v string) []int {
	v = strings.NewReplacer("-", ".").Replace(v)
	parts := strings.Split(v, ".")
	segs := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		segs = append(segs, n)
	}
	return segs
}

// versionAtLeast reports whether version is at least target, comparing
// numeric dotted segments left to right. Missing trailing segments compare
// as zero. A non-numeric segment ends the comparison for that string, so
// "0.4.7.13-alpha" compares purely on "0.4.7.13".
func versionAtLeast(version, target string) bool {
	a := versionSegments(version)
	b := versionSegments(target)
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			return av > bv
		}
	}
	return true
}
