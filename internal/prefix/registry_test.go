// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package prefix

import "testing"

func TestFindKnownFields(t *testing.T) {
	cases := []struct {
		name       string
		wantPrefix string
		wantKind   Kind
	}{
		{"type", "T", BooleanInternal},
		{"thread", "G", BooleanExternal},
		{"tag", "K", BooleanExternal},
		{"id", "Q", BooleanExternal},
		{"from", "XFROM", Probabilistic},
		{"body", "", Probabilistic},
	}
	for _, c := range cases {
		f := Find(c.name)
		if f.Prefix != c.wantPrefix || f.Kind != c.wantKind {
			t.Errorf("Find(%q) = %+v, want prefix %q kind %v", c.name, f, c.wantPrefix, c.wantKind)
		}
	}
}

func TestFindUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Find(%q) did not panic", "bogus")
		}
	}()
	Find("bogus")
}

func TestExternal(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"thread", true},
		{"tag", true},
		{"id", true},
		{"from", true},
		{"to", true},
		{"attachment", true},
		{"subject", true},
		{"date", false}, // XDATE is written internally but not reachable via the query grammar
		{"type", false},
		{"reference", false},
		{"replyto", false},
		{"directory", false},
		{"file-direntry", false},
		{"directory-direntry", false},
		{"bogus", false},
	}
	for _, c := range cases {
		if got := External(c.name); got != c.want {
			t.Errorf("External(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}
