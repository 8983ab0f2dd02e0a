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

import "fmt"

// DialectOf names the language dialect of a parsed codebase, used to
// select parser and validation sandbox images. Major version 2 is the
// language name suffixed with "2"; every other major is the bare
// language name.
func DialectOf(lang Language) string {
	if lang.VersionMajor == 2 {
		return fmt.Sprintf("%s%d", lang.Name, lang.VersionMajor)
	}
	return lang.Name
}

// Dialect reports the environment's dialect from its parse metadata,
// falling back to the default language when the environment was built
// without one.
func (e *Environment) Dialect() string {
	if e.Metadata.Parse == nil {
		return "python"
	}
	return DialectOf(e.Metadata.Parse.Language)
}
