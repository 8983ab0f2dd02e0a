// Copyright 2023 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pkgsys

import (
	"sort"
	"strconv"
	"strings"

	"deps.dev/util/semver"
)

// order is the version comparator shared by the adapters. It prefers the
// packaging system's semver rules and falls back to a relaxed comparison
// for strings those rules reject: an optional leading "epoch:", then the
// leading dot-separated numeric run, with the unparsed remainder as a
// lexical tie-breaker. Pre-release suffixes are tolerated, not
// discarded.
type order struct {
	sys semver.System
}

func (o order) compare(a, b string) int {
	va, erra := o.sys.Parse(a)
	vb, errb := o.sys.Parse(b)
	if erra == nil && errb == nil {
		return va.Compare(vb)
	}
	return CompareRelaxed(a, b)
}

// sortVersions orders versions under the comparator. A non-empty cutoff
// keeps only versions >= cutoff when ascending and <= cutoff when
// descending. The input slice is not modified.
func (o order) sortVersions(versions []string, ascending bool, cutoff string) []string {
	out := make([]string, 0, len(versions))
	for _, v := range versions {
		if cutoff != "" {
			c := o.compare(v, cutoff)
			if ascending && c < 0 {
				continue
			}
			if !ascending && c > 0 {
				continue
			}
		}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := o.compare(out[i], out[j])
		if ascending {
			return c < 0
		}
		return c > 0
	})
	return out
}

// CompareRelaxed compares two version strings without packaging-system
// semantics: an optional epoch, the leading numeric run, then the
// remainder lexically. It is the comparator of last resort for strings
// no system's rules admit.
func CompareRelaxed(a, b string) int {
	ea, a := splitEpoch(a)
	eb, b := splitEpoch(b)
	if ea != eb {
		if ea < eb {
			return -1
		}
		return 1
	}
	na, ra := leadingNumbers(a)
	nb, rb := leadingNumbers(b)
	for i := 0; i < len(na) || i < len(nb); i++ {
		var x, y int64
		if i < len(na) {
			x = na[i]
		}
		if i < len(nb) {
			y = nb[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(ra, rb)
}

func splitEpoch(v string) (int64, string) {
	i := strings.IndexByte(v, ':')
	if i <= 0 {
		return 0, v
	}
	e, err := strconv.ParseInt(v[:i], 10, 64)
	if err != nil {
		return 0, v
	}
	return e, v[i+1:]
}

// leadingNumbers extracts the leading dot-separated numeric components
// of a version string and returns them with the unparsed remainder.
func leadingNumbers(v string) ([]int64, string) {
	var nums []int64
	rest := v
	for {
		j := 0
		for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
			j++
		}
		if j == 0 {
			break
		}
		n, err := strconv.ParseInt(rest[:j], 10, 64)
		if err != nil {
			break
		}
		nums = append(nums, n)
		rest = rest[j:]
		if !strings.HasPrefix(rest, ".") {
			break
		}
		rest = rest[1:]
	}
	return nums, rest
}

// NumericParts extracts the leading numeric triple of a version string,
// missing components taken as 0. ok is false when the string has no
// leading number at all.
func NumericParts(v string) (major, minor, patch int64, ok bool) {
	_, v = splitEpoch(v)
	nums, _ := leadingNumbers(v)
	if len(nums) == 0 {
		return 0, 0, 0, false
	}
	parts := [3]int64{}
	copy(parts[:], nums)
	return parts[0], parts[1], parts[2], true
}
