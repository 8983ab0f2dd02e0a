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

/*
Package env defines the data model shared by the inference pipeline: the
Dependency tuple, the Environment unit of work, the reversible Mutation
record, and the Validation report produced by the validation sandboxes.

Environments are cloned deeply before they are mutated; the original
remains the root anchor for backtracking. All types here are plain data
with value semantics, so they can cross the search generators' yield
boundary safely as snapshots.
*/
package env

import (
	"fmt"
)

// Dependency identifies a package in one packaging system. Version is an
// opaque string interpreted only by the system's adapter; empty means
// unpinned.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	System  string `json:"system"`
}

func (d Dependency) String() string {
	if d.Version == "" {
		return fmt.Sprintf("%s:%s", d.System, d.Name)
	}
	return fmt.Sprintf("%s:%s@%s", d.System, d.Name, d.Version)
}

// Image names a container base image.
type Image struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

func (i Image) String() string {
	if i.Tag == "" {
		return i.Name
	}
	return i.Name + ":" + i.Tag
}

// Command is an executable invocation.
type Command struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

func (c Command) String() string {
	s := c.Command
	for _, a := range c.Args {
		s += " " + a
	}
	return s
}

// MutationKind enumerates the reversible transformations a mutator may
// apply to a dependency.
type MutationKind string

const (
	DecrementSemverMajor     MutationKind = "decrement_semver_major"
	DecrementSemverMinor     MutationKind = "decrement_semver_minor"
	VersionMatrixFromVersion MutationKind = "version_matrix_from_version"
	VersionMatrixToVersion   MutationKind = "version_matrix_to_version"
)

// Mutation records one reversible version change of one dependency.
// Index and MutatorIndex are bookkeeping carried for the producing search
// strategy so it can resume its scan after an undo; they are opaque
// outside that strategy.
type Mutation struct {
	Kind    MutationKind `json:"kind"`
	Package string       `json:"package"`
	From    string       `json:"from"`
	To      string       `json:"to"`

	Index        int `json:"index"`
	MutatorIndex int `json:"mutator_index"`
}

// ResourcePackage is one piece of evidence justifying a direct
// dependency: the imported resource and the package it resolved to.
type ResourcePackage struct {
	Resource string `json:"resource"`
	Package  string `json:"package"`
}

// Language describes the detected language dialect of a parsed codebase.
type Language struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	VersionMajor int    `json:"version_major"`
	System       string `json:"system"`
	Jupyter      bool   `json:"jupyter,omitempty"`
}

// ParsedFile is one source file with the resources it imports.
type ParsedFile struct {
	Filename string   `json:"filename"`
	Imports  []string `json:"imports"`
}

// ParseReport is the document a parser sandbox writes to its primary
// output channel.
type ParseReport struct {
	Language Language     `json:"language"`
	NumFiles int          `json:"num_files"`
	Files    []ParsedFile `json:"files"`
}

// ImportedResources returns the union of all imports across files, in
// first-seen order.
func (p *ParseReport) ImportedResources() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range p.Files {
		for _, imp := range f.Imports {
			if seen[imp] {
				continue
			}
			seen[imp] = true
			out = append(out, imp)
		}
	}
	return out
}

// FeedbackState is per-dependency scratch state owned by the
// feedback-directed search: the pending version-matrix mutation plan and
// whether the matrix has been fetched for the dependency.
type FeedbackState struct {
	MatrixFetched bool       `json:"matrix_fetched"`
	MatrixQueue   []Mutation `json:"matrix_queue,omitempty"`
}

// Metadata accumulates everything the inference learned about an
// environment: the parse report, the dependency lookups with their
// resource evidence, the mutation stack, and the validations deemed
// fixed by the feedback search.
type Metadata struct {
	Parse                  *ParseReport      `json:"parse,omitempty"`
	ImportedResources      []string          `json:"imported_resources,omitempty"`
	DirectLookup           []Dependency      `json:"direct_lookup,omitempty"`
	ResourcePackageMapping []ResourcePackage `json:"resource_package_mapping,omitempty"`
	UnresolvedResources    []string          `json:"unresolved_resources,omitempty"`
	TransitiveLookup       []Dependency      `json:"transitive_lookup,omitempty"`
	NameResolutions        int               `json:"name_resolutions"`

	Mutations        []Mutation                `json:"mutations,omitempty"`
	FixedValidations []*Validation             `json:"fixed_validations,omitempty"`
	Feedback         map[string]*FeedbackState `json:"feedback,omitempty"`
}

// Environment is the unit of work: a candidate execution configuration
// for the code under inference.
type Environment struct {
	ID            string       `json:"id"`
	Image         Image        `json:"image"`
	WorkDir       string       `json:"work_dir"`
	EntryCmd      Command      `json:"entry_cmd"`
	SetupCommands []Command    `json:"setup_commands,omitempty"`
	Dependencies  []Dependency `json:"dependencies"`
	Metadata      Metadata     `json:"metadata"`
}

// Clone returns a deep copy of the environment. The copy shares no
// mutable slices or maps with the receiver, so mutating one never
// disturbs the other across a search's yield boundary. The Validation
// records listed in Metadata.FixedValidations are shared by pointer;
// only the slice holding them is copied.
func (e *Environment) Clone() *Environment {
	c := *e
	c.SetupCommands = cloneCommands(e.SetupCommands)
	c.EntryCmd.Args = cloneStrings(e.EntryCmd.Args)
	c.Dependencies = append([]Dependency(nil), e.Dependencies...)

	m := &c.Metadata
	if e.Metadata.Parse != nil {
		p := *e.Metadata.Parse
		p.Files = make([]ParsedFile, len(e.Metadata.Parse.Files))
		for i, f := range e.Metadata.Parse.Files {
			f.Imports = cloneStrings(f.Imports)
			p.Files[i] = f
		}
		m.Parse = &p
	}
	m.ImportedResources = cloneStrings(e.Metadata.ImportedResources)
	m.DirectLookup = append([]Dependency(nil), e.Metadata.DirectLookup...)
	m.ResourcePackageMapping = append([]ResourcePackage(nil), e.Metadata.ResourcePackageMapping...)
	m.UnresolvedResources = cloneStrings(e.Metadata.UnresolvedResources)
	m.TransitiveLookup = append([]Dependency(nil), e.Metadata.TransitiveLookup...)
	m.Mutations = append([]Mutation(nil), e.Metadata.Mutations...)
	m.FixedValidations = append([]*Validation(nil), e.Metadata.FixedValidations...)
	if e.Metadata.Feedback != nil {
		m.Feedback = make(map[string]*FeedbackState, len(e.Metadata.Feedback))
		for k, v := range e.Metadata.Feedback {
			fs := *v
			fs.MatrixQueue = append([]Mutation(nil), v.MatrixQueue...)
			m.Feedback[k] = &fs
		}
	}
	return &c
}

// FeedbackFor returns the feedback state for the named dependency,
// creating it on first use.
func (m *Metadata) FeedbackFor(name string) *FeedbackState {
	if m.Feedback == nil {
		m.Feedback = make(map[string]*FeedbackState)
	}
	fs, ok := m.Feedback[name]
	if !ok {
		fs = &FeedbackState{}
		m.Feedback[name] = fs
	}
	return fs
}

// PushMutation applies an already-computed mutation to the dependency at
// its stored index and appends it to the mutation stack.
func (e *Environment) PushMutation(mu Mutation) {
	e.Dependencies[mu.Index].Version = mu.To
	e.Metadata.Mutations = append(e.Metadata.Mutations, mu)
}

// PopMutation undoes the top of the mutation stack, restoring the
// dependency's version byte-for-byte, and returns the popped record.
// It panics if the stack is empty; callers own that invariant.
func (e *Environment) PopMutation() Mutation {
	n := len(e.Metadata.Mutations)
	mu := e.Metadata.Mutations[n-1]
	if n == 1 {
		e.Metadata.Mutations = nil
	} else {
		e.Metadata.Mutations = e.Metadata.Mutations[:n-1]
	}
	e.Dependencies[mu.Index].Version = mu.From
	return mu
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneCommands(cs []Command) []Command {
	if cs == nil {
		return nil
	}
	out := make([]Command, len(cs))
	for i, c := range cs {
		c.Args = cloneStrings(c.Args)
		out[i] = c
	}
	return out
}
