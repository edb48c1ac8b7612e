// SPDX-FileCopyrightText: 2026 The dtnrecv Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wsdaemon

import (
	"fmt"
	"io"
	"reflect"

	"github.com/dtn7/cboring"

	"github.com/dtn7/dtnrecv/pkg/bpv7"
)

// message might be sent over the daemon's WebSocket. Each message is framed as
// a two element CBOR array of its type code and its body.
type message interface {
	typeCode() uint64

	// CborMarshaler only handles the message's body.
	cboring.CborMarshaler
}

const (
	statusCode      uint64 = 0
	registerCode    uint64 = 1
	fetchCode       uint64 = 5
	bundleStartCode uint64 = 6
	blockStartCode  uint64 = 7
	blockDataCode   uint64 = 8
	blockEndCode    uint64 = 9
	bundleEndCode   uint64 = 10
	finishedCode    uint64 = 11
	queueEmptyCode  uint64 = 12
	deliveredCode   uint64 = 13
	nodeStateCode   uint64 = 14
	notifyCode      uint64 = 15
)

var messageMapping = map[uint64]reflect.Type{
	statusCode:      reflect.TypeOf(statusMessage{}),
	registerCode:    reflect.TypeOf(registerMessage{}),
	fetchCode:       reflect.TypeOf(fetchMessage{}),
	bundleStartCode: reflect.TypeOf(bundleStartMessage{}),
	blockStartCode:  reflect.TypeOf(blockStartMessage{}),
	blockDataCode:   reflect.TypeOf(blockDataMessage{}),
	blockEndCode:    reflect.TypeOf(blockEndMessage{}),
	bundleEndCode:   reflect.TypeOf(bundleEndMessage{}),
	finishedCode:    reflect.TypeOf(finishedMessage{}),
	queueEmptyCode:  reflect.TypeOf(queueEmptyMessage{}),
	deliveredCode:   reflect.TypeOf(deliveredMessage{}),
	nodeStateCode:   reflect.TypeOf(nodeStateMessage{}),
	notifyCode:      reflect.TypeOf(notifyMessage{}),
}

func marshalMessage(msg message, w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(msg.typeCode(), w); err != nil {
		return err
	}
	return cboring.Marshal(msg, w)
}

func unmarshalMessage(r io.Reader) (msg message, err error) {
	if n, arrErr := cboring.ReadArrayLength(r); arrErr != nil {
		err = arrErr
		return
	} else if n != 2 {
		err = fmt.Errorf("expected array of two elements, got %d", n)
		return
	}

	if code, codeErr := cboring.ReadUInt(r); codeErr != nil {
		err = codeErr
		return
	} else if t, ok := messageMapping[code]; !ok {
		err = fmt.Errorf("unknown message type code %d", code)
		return
	} else {
		msg = reflect.New(t).Interface().(message)
	}

	err = cboring.Unmarshal(msg, r)
	return
}

// statusMessage acknowledges a registration or reports an error by a
// non-empty string.
type statusMessage struct {
	errorMsg string
}

func newStatusMessage(err error) *statusMessage {
	if err == nil {
		return &statusMessage{}
	}
	return &statusMessage{err.Error()}
}

func (*statusMessage) typeCode() uint64 { return statusCode }

func (sm *statusMessage) MarshalCbor(w io.Writer) error {
	return cboring.WriteTextString(sm.errorMsg, w)
}

func (sm *statusMessage) UnmarshalCbor(r io.Reader) (err error) {
	sm.errorMsg, err = cboring.ReadTextString(r)
	return
}

// registerMessage registers the client for an endpoint.
type registerMessage struct {
	endpoint string
}

func (*registerMessage) typeCode() uint64 { return registerCode }

func (rm *registerMessage) MarshalCbor(w io.Writer) error {
	return cboring.WriteTextString(rm.endpoint, w)
}

func (rm *registerMessage) UnmarshalCbor(r io.Reader) (err error) {
	rm.endpoint, err = cboring.ReadTextString(r)
	return
}

// fetchMessage requests the next pending bundle. It is answered by a stream
// of bundle messages terminated by a finishedMessage or by a queueEmptyMessage.
type fetchMessage struct {
	streamed bool
}

func (*fetchMessage) typeCode() uint64 { return fetchCode }

func (fm *fetchMessage) MarshalCbor(w io.Writer) error {
	return cboring.WriteBoolean(fm.streamed, w)
}

func (fm *fetchMessage) UnmarshalCbor(r io.Reader) (err error) {
	fm.streamed, err = cboring.ReadBoolean(r)
	return
}

type bundleStartMessage struct {
	bundle bpv7.Bundle
}

func (*bundleStartMessage) typeCode() uint64 { return bundleStartCode }

func (bsm *bundleStartMessage) MarshalCbor(w io.Writer) error {
	return cboring.Marshal(&bsm.bundle, w)
}

func (bsm *bundleStartMessage) UnmarshalCbor(r io.Reader) error {
	return cboring.Unmarshal(&bsm.bundle, r)
}

type blockStartMessage struct {
	block bpv7.Block
}

func (*blockStartMessage) typeCode() uint64 { return blockStartCode }

func (bsm *blockStartMessage) MarshalCbor(w io.Writer) error {
	return cboring.Marshal(&bsm.block, w)
}

func (bsm *blockStartMessage) UnmarshalCbor(r io.Reader) error {
	return cboring.Unmarshal(&bsm.block, r)
}

// blockDataMessage is a chunk of the current block's data.
type blockDataMessage struct {
	data []byte
}

func (*blockDataMessage) typeCode() uint64 { return blockDataCode }

func (bdm *blockDataMessage) MarshalCbor(w io.Writer) error {
	return cboring.WriteByteString(bdm.data, w)
}

func (bdm *blockDataMessage) UnmarshalCbor(r io.Reader) (err error) {
	bdm.data, err = cboring.ReadByteString(r)
	return
}

type blockEndMessage struct {
	number uint64
}

func (*blockEndMessage) typeCode() uint64 { return blockEndCode }

func (bem *blockEndMessage) MarshalCbor(w io.Writer) error {
	return cboring.WriteUInt(bem.number, w)
}

func (bem *blockEndMessage) UnmarshalCbor(r io.Reader) (err error) {
	bem.number, err = cboring.ReadUInt(r)
	return
}

type bundleEndMessage struct {
	bid bpv7.BundleID
}

func (*bundleEndMessage) typeCode() uint64 { return bundleEndCode }

func (bem *bundleEndMessage) MarshalCbor(w io.Writer) error {
	return cboring.Marshal(&bem.bid, w)
}

func (bem *bundleEndMessage) UnmarshalCbor(r io.Reader) error {
	return cboring.Unmarshal(&bem.bid, r)
}

// finishedMessage terminates a fetch which delivered a bundle.
type finishedMessage struct {
	token uint64
}

func (*finishedMessage) typeCode() uint64 { return finishedCode }

func (fm *finishedMessage) MarshalCbor(w io.Writer) error {
	return cboring.WriteUInt(fm.token, w)
}

func (fm *finishedMessage) UnmarshalCbor(r io.Reader) (err error) {
	fm.token, err = cboring.ReadUInt(r)
	return
}

// queueEmptyMessage terminates a fetch without a pending bundle.
type queueEmptyMessage struct {
	token uint64
}

func (*queueEmptyMessage) typeCode() uint64 { return queueEmptyCode }

func (qem *queueEmptyMessage) MarshalCbor(w io.Writer) error {
	return cboring.WriteUInt(qem.token, w)
}

func (qem *queueEmptyMessage) UnmarshalCbor(r io.Reader) (err error) {
	qem.token, err = cboring.ReadUInt(r)
	return
}

// deliveredMessage marks a bundle as processed by the client.
type deliveredMessage struct {
	bid bpv7.BundleID
}

func (*deliveredMessage) typeCode() uint64 { return deliveredCode }

func (dm *deliveredMessage) MarshalCbor(w io.Writer) error {
	return cboring.Marshal(&dm.bid, w)
}

func (dm *deliveredMessage) UnmarshalCbor(r io.Reader) error {
	return cboring.Unmarshal(&dm.bid, r)
}

// nodeStateMessage reports the daemon's node to be online or offline.
type nodeStateMessage struct {
	online bool
}

func (*nodeStateMessage) typeCode() uint64 { return nodeStateCode }

func (nsm *nodeStateMessage) MarshalCbor(w io.Writer) error {
	return cboring.WriteBoolean(nsm.online, w)
}

func (nsm *nodeStateMessage) UnmarshalCbor(r io.Reader) (err error) {
	nsm.online, err = cboring.ReadBoolean(r)
	return
}

// notifyMessage announces a new bundle for some recipient.
type notifyMessage struct {
	recipient string
}

func (*notifyMessage) typeCode() uint64 { return notifyCode }

func (nm *notifyMessage) MarshalCbor(w io.Writer) error {
	return cboring.WriteTextString(nm.recipient, w)
}

func (nm *notifyMessage) UnmarshalCbor(r io.Reader) (err error) {
	nm.recipient, err = cboring.ReadTextString(r)
	return
}
