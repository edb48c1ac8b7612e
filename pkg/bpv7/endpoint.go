// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dtn7/cboring"
)

const (
	dtnSchemeName = "dtn"
	dtnSchemeNo   = 1
	dtnNoneSsp    = "none"

	ipnSchemeName = "ipn"
	ipnSchemeNo   = 2
)

var (
	dtnUriRegexp = regexp.MustCompile(`^dtn:(none|//([^/]+)/(.*))$`)
	ipnUriRegexp = regexp.MustCompile(`^ipn:(\d+)\.(\d+)$`)
)

// EndpointType is the scheme specific part of an EndpointID. Implementations
// must be comparable values, so that two EndpointIDs can be compared by ==.
type EndpointType interface {
	// SchemeName is the URI scheme, e.g., "dtn".
	SchemeName() string

	// SchemeNo is the scheme's number as used in the CBOR representation.
	SchemeNo() uint64

	// Authority is the node part, e.g., "foo" for "dtn://foo/bar".
	Authority() string

	// Path is the service part, e.g., "/bar" for "dtn://foo/bar".
	Path() string

	Valid
	fmt.Stringer

	marshalSsp(w io.Writer) error
}

// EndpointID identifies an endpoint, a node or a service running on a node.
type EndpointID struct {
	EndpointType EndpointType
}

// NewEndpointID parses an URI. Only the "dtn" and "ipn" schemes are known.
func NewEndpointID(uri string) (EndpointID, error) {
	switch {
	case strings.HasPrefix(uri, dtnSchemeName+":"):
		e, err := newDtnEndpoint(uri)
		return EndpointID{e}, err

	case strings.HasPrefix(uri, ipnSchemeName+":"):
		e, err := newIpnEndpoint(uri)
		return EndpointID{e}, err

	default:
		return EndpointID{}, fmt.Errorf("unknown scheme for endpoint %q", uri)
	}
}

// MustNewEndpointID is NewEndpointID, but panics on an error.
func MustNewEndpointID(uri string) EndpointID {
	eid, err := NewEndpointID(uri)
	if err != nil {
		panic(err)
	}
	return eid
}

// DtnNone is the null endpoint, "dtn:none".
func DtnNone() EndpointID {
	return EndpointID{DtnEndpoint{Ssp: dtnNoneSsp}}
}

// Authority of the underlying EndpointType or an empty string.
func (eid EndpointID) Authority() string {
	if eid.EndpointType == nil {
		return ""
	}
	return eid.EndpointType.Authority()
}

// Path of the underlying EndpointType or an empty string.
func (eid EndpointID) Path() string {
	if eid.EndpointType == nil {
		return ""
	}
	return eid.EndpointType.Path()
}

// CheckValid fails for a zero EndpointID or an invalid scheme specific part.
func (eid EndpointID) CheckValid() error {
	if eid.EndpointType == nil {
		return fmt.Errorf("endpoint ID has no endpoint type")
	}
	return eid.EndpointType.CheckValid()
}

func (eid EndpointID) String() string {
	if eid.EndpointType == nil {
		return "<nil>"
	}
	return eid.EndpointType.String()
}

// MarshalCbor writes the EndpointID as a two element array of its scheme
// number and scheme specific part.
func (eid *EndpointID) MarshalCbor(w io.Writer) error {
	if eid.EndpointType == nil {
		return fmt.Errorf("cannot marshal an empty endpoint ID")
	}

	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(eid.EndpointType.SchemeNo(), w); err != nil {
		return err
	}
	return eid.EndpointType.marshalSsp(w)
}

// UnmarshalCbor reads an EndpointID written by MarshalCbor.
func (eid *EndpointID) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("endpoint ID expected array of 2 elements, got %d", n)
	}

	schemeNo, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	switch schemeNo {
	case dtnSchemeNo:
		var e DtnEndpoint
		if err := e.unmarshalSsp(r); err != nil {
			return err
		}
		eid.EndpointType = e

	case ipnSchemeNo:
		var e IpnEndpoint
		if err := e.unmarshalSsp(r); err != nil {
			return err
		}
		eid.EndpointType = e

	default:
		return fmt.Errorf("unknown endpoint scheme number %d", schemeNo)
	}

	return nil
}

// DtnEndpoint is an endpoint of the "dtn" URI scheme.
type DtnEndpoint struct {
	Ssp string
}

func newDtnEndpoint(uri string) (e DtnEndpoint, err error) {
	if !dtnUriRegexp.MatchString(uri) {
		err = fmt.Errorf("uri %q does not match a dtn endpoint", uri)
		return
	}

	e = DtnEndpoint{Ssp: strings.TrimPrefix(uri, dtnSchemeName+":")}
	return
}

func (DtnEndpoint) SchemeName() string { return dtnSchemeName }
func (DtnEndpoint) SchemeNo() uint64   { return dtnSchemeNo }

func (e DtnEndpoint) parse() (authority, path string) {
	if e.Ssp == dtnNoneSsp {
		return dtnNoneSsp, "/"
	}

	u, err := url.Parse(e.String())
	if err != nil {
		return
	}
	return u.Hostname(), u.RequestURI()
}

func (e DtnEndpoint) Authority() string {
	authority, _ := e.parse()
	return authority
}

func (e DtnEndpoint) Path() string {
	_, path := e.parse()
	return path
}

func (e DtnEndpoint) CheckValid() error {
	if !dtnUriRegexp.MatchString(e.String()) {
		return fmt.Errorf("dtn endpoint %q is malformed", e.String())
	}
	return nil
}

func (e DtnEndpoint) String() string {
	return dtnSchemeName + ":" + e.Ssp
}

func (e DtnEndpoint) marshalSsp(w io.Writer) error {
	if e.Ssp == dtnNoneSsp {
		return cboring.WriteUInt(0, w)
	}
	return cboring.WriteTextString(e.Ssp, w)
}

func (e *DtnEndpoint) unmarshalSsp(r io.Reader) error {
	m, n, err := cboring.ReadMajors(r)
	if err != nil {
		return err
	}

	switch m {
	case cboring.UInt:
		e.Ssp = dtnNoneSsp

	case cboring.TextString:
		raw, err := cboring.ReadRawBytes(n, r)
		if err != nil {
			return err
		}
		e.Ssp = string(raw)

	default:
		return fmt.Errorf("dtn endpoint: unexpected major type 0x%X", m)
	}
	return nil
}

// IpnEndpoint is an endpoint of the "ipn" URI scheme, RFC 6260.
type IpnEndpoint struct {
	Node    uint64
	Service uint64
}

func newIpnEndpoint(uri string) (e IpnEndpoint, err error) {
	matches := ipnUriRegexp.FindStringSubmatch(uri)
	if len(matches) != 3 {
		err = fmt.Errorf("uri %q does not match an ipn endpoint", uri)
		return
	}

	if e.Node, err = strconv.ParseUint(matches[1], 10, 64); err != nil {
		return
	}
	if e.Service, err = strconv.ParseUint(matches[2], 10, 64); err != nil {
		return
	}

	err = e.CheckValid()
	return
}

func (IpnEndpoint) SchemeName() string { return ipnSchemeName }
func (IpnEndpoint) SchemeNo() uint64   { return ipnSchemeNo }

func (e IpnEndpoint) Authority() string { return strconv.FormatUint(e.Node, 10) }
func (e IpnEndpoint) Path() string      { return strconv.FormatUint(e.Service, 10) }

func (e IpnEndpoint) CheckValid() error {
	if e.Node < 1 || e.Service < 1 {
		return fmt.Errorf("ipn node and service number must be >= 1")
	}
	return nil
}

func (e IpnEndpoint) String() string {
	return fmt.Sprintf("%s:%d.%d", ipnSchemeName, e.Node, e.Service)
}

func (e IpnEndpoint) marshalSsp(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, n := range []uint64{e.Node, e.Service} {
		if err := cboring.WriteUInt(n, w); err != nil {
			return err
		}
	}
	return nil
}

func (e *IpnEndpoint) unmarshalSsp(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("ipn endpoint expected array of 2 elements, got %d", n)
	}

	for _, f := range []*uint64{&e.Node, &e.Service} {
		n, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		*f = n
	}
	return nil
}
