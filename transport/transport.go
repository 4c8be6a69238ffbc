// Transport services consumed by the PXE core
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package transport defines the TFTP, UDP and ARP services spec.md §6
// marks as supplied collaborators: transport layers the dispatcher
// delegates to and whose failures it maps onto PXENV status codes. Nothing
// in this package implements a wire protocol; that lives in whatever
// concrete transport a deployment wires in. pxecore's core only ever holds
// these interfaces.
package transport

import "net"

// Block is one TFTP data block as handed back to the dispatcher.
type Block struct {
	Number uint16
	Data   []byte
	EOF    bool
}

// TFTPRequest seeds a new transfer; a nil request asks for the next block
// of whatever transfer is already open, mirroring the original's
// tftp_block(request?, &block) signature.
type TFTPRequest struct {
	ServerIP net.IP
	Filename string
}

// TFTP is the block-oriented TFTP service PXENV_TFTP_OPEN/READ/CLOSE
// delegate to.
type TFTP interface {
	// Block reads one block, opening a new transfer first if req is
	// non-nil.
	Block(req *TFTPRequest, block *Block) error
	// ReadFile performs a full-file transfer, invoking cb once per
	// block; cb's block.EOF marks the last call. Used by
	// PXENV_TFTP_READ_FILE and PXENV_RESTART_TFTP.
	ReadFile(serverIP net.IP, name string, cb func(Block) error) error
	// FileSize returns the size of name on serverIP without transferring
	// it, for PXENV_TFTP_GET_FSIZE.
	FileSize(serverIP net.IP, name string) (uint32, error)
}

// UDP is the best-effort datagram service PXENV_UDP_OPEN/WRITE/READ
// delegate to.
type UDP interface {
	// Transmit sends one UDP datagram.
	Transmit(dstIP net.IP, srcPort, dstPort uint16, payload []byte) error
	// AwaitReply polls for an inbound packet matching filter within
	// timeout, returning the payload and its originating address and
	// port. matched == false means the poll window elapsed
	// with nothing matching; PXENV_UDP_READ's precise status on that
	// path is implementation-defined (spec.md §9, open question #2) and
	// left as the caller's pre-set Status.
	AwaitReply(filter ReplyFilter, timeoutMS int) (srcIP net.IP, srcPort uint16, payload []byte, matched bool)
}

// ReplyFilter narrows AwaitReply to packets addressed to a specific local
// port, optionally restricted to a specific peer.
type ReplyFilter struct {
	LocalPort uint16
	PeerIP    net.IP
	PeerPort  uint16
}

// ARPTables is read-only access to the learned client/server/gateway
// addresses the transport layer owns; the core only references them by
// enumerator, per spec.md §3's "ARP and address tables" ownership note.
type ARPTables interface {
	Client() net.IP
	Server() net.IP
	Gateway() net.IP
	Resolve(ip net.IP) (net.HardwareAddr, bool)
}
