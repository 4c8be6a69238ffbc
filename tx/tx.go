// Transmit builder: TBD assembly and link-layer header construction
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package tx assembles outbound frames from a caller's Transmit Buffer
// Descriptor: it copies the TBD out of real memory, concatenates the
// immediate payload with its scatter-gather data blocks, selects a network
// protocol, and — unless the protocol is UNKNOWN — prepends a link-layer
// header before handing the frame to netdev.Device.Transmit.
package tx

import (
	"errors"
	"net"

	"gvisor.dev/gvisor/pkg/tcpip/header"

	"github.com/netboot-go/pxecore/internal/physmem"
	"github.com/netboot-go/pxecore/netdev"
	"github.com/netboot-go/pxecore/pxeapi"
)

// EthernetHeaderLen is the Ethernet II header size, per gVisor's own
// header.EthernetMinimumSize: destination (6) + source (6) + ethertype (2).
const EthernetHeaderLen = header.EthernetMinimumSize

// EthertypeRARP has no header.* constant in gVisor (RARP never shipped a
// network-layer endpoint there), so it stays a local value; IP and ARP
// are the stack's own protocol numbers, not a parallel hand-rolled table.
const EthertypeRARP uint16 = 0x8035

var errInvalidProtocol = errors.New("tx: invalid protocol")
var errTooManyDataBlocks = errors.New("tx: DataBlkCount exceeds MAX_DATA_BLKS")

// Builder assembles and transmits frames on behalf of PXENV_UNDI_TRANSMIT.
type Builder struct {
	Mem    physmem.Memory
	Device netdev.Device
}

func ethertype(protocol uint8) (uint16, bool, error) {
	switch protocol {
	case pxeapi.ProtIP:
		return uint16(header.IPv4ProtocolNumber), true, nil
	case pxeapi.ProtARP:
		return uint16(header.ARPProtocolNumber), true, nil
	case pxeapi.ProtRARP:
		return EthertypeRARP, true, nil
	case 0:
		// UNKNOWN: raw frame, no link-layer header added.
		return 0, false, nil
	default:
		return 0, false, errInvalidProtocol
	}
}

// Transmit runs the full PXENV_UNDI_TRANSMIT algorithm: read the TBD,
// gather its payload, optionally build and prepend a link-layer header,
// and hand the frame to Device.Transmit.
func (b *Builder) Transmit(tbd pxeapi.SegOff, protocol uint8, xmitFlag uint16, destAddr net.HardwareAddr, llAddrLen int) error {
	raw := make([]byte, tbdReadSize)
	b.Mem.Read(tbd.Linear(), raw)

	t, err := pxeapi.UnmarshalTBD(raw)
	if err != nil {
		return err
	}

	if t.DataBlkCount > pxeapi.MaxDataBlks {
		return errTooManyDataBlocks
	}

	ethertype, needsHeader, err := ethertype(protocol)
	if err != nil {
		return err
	}

	headroom := 0
	if needsHeader {
		headroom = EthernetHeaderLen
	}

	payloadLen := int(t.ImmedLength)
	for i := 0; i < int(t.DataBlkCount); i++ {
		payloadLen += int(t.DataBlock[i].TDDataLen)
	}

	frame := make([]byte, headroom+payloadLen)

	off := headroom
	if t.ImmedLength > 0 {
		b.Mem.Read(t.Xmit.Linear(), frame[off:off+int(t.ImmedLength)])
		off += int(t.ImmedLength)
	}

	for i := 0; i < int(t.DataBlkCount); i++ {
		blk := t.DataBlock[i]
		b.Mem.Read(blk.TDDataPtr.Linear(), frame[off:off+int(blk.TDDataLen)])
		off += int(blk.TDDataLen)
	}

	if needsHeader {
		dest := destAddr

		if xmitFlag != pxeapi.XmitDestAddr {
			dest = broadcastAddress(llAddrLen)
		} else if len(dest) == 0 {
			return errors.New("tx: DESTADDR requested but no address supplied")
		}

		writeEthernetHeader(frame, dest, b.Device.Address(), ethertype)
	}

	return b.Device.Transmit(frame)
}

// tbdReadSize is generous enough to cover a fully-populated 8-block TBD.
const tbdReadSize = 2 + 4 + 2 + pxeapi.MaxDataBlks*8

func broadcastAddress(n int) net.HardwareAddr {
	if n <= 0 {
		n = 6
	}

	addr := make(net.HardwareAddr, n)
	for i := range addr {
		addr[i] = 0xff
	}

	return addr
}

func writeEthernetHeader(frame []byte, dest, src net.HardwareAddr, ethertype uint16) {
	copy(frame[0:6], dest)
	copy(frame[6:12], src)
	frame[12] = byte(ethertype >> 8)
	frame[13] = byte(ethertype)
}
