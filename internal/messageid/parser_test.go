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

package messageid

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name   string
		input  string
		wantID string
		wantOK bool
	}{
		{"plain", "<foo@example.com>", "foo@example.com", true},
		{"leading text", "Re: message <foo@example.com>", "foo@example.com", true},
		{"internal whitespace collapsed", "< foo @ example . com >", "foo@example.com", true},
		{"comment before bracket", "(a comment) <foo@example.com>", "foo@example.com", true},
		{"parens inside brackets kept verbatim", "<foo@example.com (nested (comment) here)>", "foo@example.com(nested(comment)here)", true},
		{"escaped paren in comment", `(a \) comment) <foo@example.com>`, "foo@example.com", true},
		{"no angle brackets", "foo@example.com", "", false},
		{"empty brackets", "<>", "", false},
		{"empty string", "", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			id, ok := Parse(c.input)
			if ok != c.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v (id = %q)", c.input, ok, c.wantOK, id)
			}
			if ok && id != c.wantID {
				t.Errorf("Parse(%q) = %q, want %q", c.input, id, c.wantID)
			}
		})
	}
}

func TestReferences(t *testing.T) {
	cases := []struct {
		name   string
		header string
		own    string
		want   []string
	}{
		{
			name:   "simple chain",
			header: "<a@x> <b@x> <c@x>",
			own:    "d@x",
			want:   []string{"a@x", "b@x", "c@x"},
		},
		{
			name:   "self reference excluded",
			header: "<a@x> <self@x> <b@x>",
			own:    "self@x",
			want:   []string{"a@x", "b@x"},
		},
		{
			name:   "duplicates collapsed, first occurrence kept",
			header: "<a@x> <b@x> <a@x>",
			own:    "own@x",
			want:   []string{"a@x", "b@x"},
		},
		{
			name:   "empty header",
			header: "",
			own:    "own@x",
			want:   nil,
		},
		{
			name:   "garbage does not loop forever",
			header: "not a message id at all",
			own:    "own@x",
			want:   nil,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := References(c.header, c.own)
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Errorf("References(%q, %q) mismatch (-want +got):\n%s", c.header, c.own, diff)
			}
		})
	}
}
