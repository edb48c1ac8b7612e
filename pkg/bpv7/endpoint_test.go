// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"bytes"
	"testing"

	"github.com/dtn7/cboring"
)

func TestNewEndpointID(t *testing.T) {
	tests := []struct {
		uri       string
		valid     bool
		authority string
		path      string
	}{
		{"dtn:none", true, "none", "/"},
		{"dtn://foo/", true, "foo", "/"},
		{"dtn://foo/bar", true, "foo", "/bar"},
		{"dtn://foo/bar/baz", true, "foo", "/bar/baz"},
		{"dtn:foo", false, "", ""},
		{"dtn://", false, "", ""},
		{"ipn:23.42", true, "23", "42"},
		{"ipn:0.42", false, "", ""},
		{"ipn:23", false, "", ""},
		{"uff:23", false, "", ""},
		{"", false, "", ""},
	}

	for _, test := range tests {
		t.Run(test.uri, func(t *testing.T) {
			eid, err := NewEndpointID(test.uri)
			if (err == nil) != test.valid {
				t.Fatalf("expected validity %t, got error %v", test.valid, err)
			} else if !test.valid {
				return
			}

			if s := eid.String(); s != test.uri {
				t.Fatalf("expected string %q, got %q", test.uri, s)
			}
			if a := eid.Authority(); a != test.authority {
				t.Fatalf("expected authority %q, got %q", test.authority, a)
			}
			if p := eid.Path(); p != test.path {
				t.Fatalf("expected path %q, got %q", test.path, p)
			}
		})
	}
}

func TestEndpointIDEquality(t *testing.T) {
	if MustNewEndpointID("dtn://foo/bar") != MustNewEndpointID("dtn://foo/bar") {
		t.Fatal("equal dtn endpoints are unequal")
	}
	if MustNewEndpointID("ipn:1.2") != MustNewEndpointID("ipn:1.2") {
		t.Fatal("equal ipn endpoints are unequal")
	}
	if MustNewEndpointID("dtn://foo/bar") == MustNewEndpointID("dtn://foo/baz") {
		t.Fatal("different dtn endpoints are equal")
	}
	if DtnNone() != MustNewEndpointID("dtn:none") {
		t.Fatal("dtn:none mismatches")
	}
}

func TestEndpointIDCbor(t *testing.T) {
	for _, uri := range []string{"dtn:none", "dtn://foo/bar", "ipn:23.42"} {
		from := MustNewEndpointID(uri)

		buff := new(bytes.Buffer)
		if err := cboring.Marshal(&from, buff); err != nil {
			t.Fatal(err)
		}

		var to EndpointID
		if err := cboring.Unmarshal(&to, buff); err != nil {
			t.Fatal(err)
		}

		if from != to {
			t.Fatalf("expected %v, got %v", from, to)
		}
	}
}

func TestEndpointIDZero(t *testing.T) {
	var eid EndpointID

	if eid.CheckValid() == nil {
		t.Fatal("zero endpoint ID is valid")
	}
	if err := cboring.Marshal(&eid, new(bytes.Buffer)); err == nil {
		t.Fatal("marshalling a zero endpoint ID succeeded")
	}
	if eid.String() != "<nil>" {
		t.Fatalf("unexpected string %q", eid.String())
	}
}
