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

package env

import "strings"

// MappedPackages returns the packages the resource resolved to in the
// environment's resource→package mapping. A dotted resource matches on
// its head component.
func (e *Environment) MappedPackages(resource string) []string {
	if resource == "" {
		return nil
	}
	head := resource
	if i := strings.IndexByte(head, '.'); i >= 0 {
		head = head[:i]
	}
	var pkgs []string
	for _, rp := range e.Metadata.ResourcePackageMapping {
		if rp.Resource == resource || rp.Resource == head {
			pkgs = append(pkgs, rp.Package)
		}
	}
	return pkgs
}

// DependencyIndex returns the position of the named package in the
// dependency list, comparing names loosely (case and the separators
// "-", "_", "." fold together), or -1.
func (e *Environment) DependencyIndex(name string) int {
	want := foldName(name)
	for i, d := range e.Dependencies {
		if foldName(d.Name) == want {
			return i
		}
	}
	return -1
}

func foldName(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + ('a' - 'A'))
		case c == '_' || c == '.':
			b.WriteByte('-')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
