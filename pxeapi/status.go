// PXE API status and opcode definitions
// https://github.com/netboot-go/pxecore
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pxeapi defines the on-wire data model of the Intel PXE 2.1 API:
// status codes, opcodes, the !PXE and PXENV+ runtime descriptors, and the
// per-opcode parameter blocks that the dispatcher marshals in and out.
//
// Field order and widths in every struct in this package follow the Intel
// PXE specification bit for bit; nothing here is free to reorder.
package pxeapi

// Status is a PXENV_STATUS_t return code, written into every parameter
// block's Status field before a handler returns.
type Status uint16

// Core status codes (PXE 2.1 spec, §3 "Shared Definitions").
const (
	StatusSuccess        Status = 0x00
	StatusFailure        Status = 0x01
	StatusBadFunc        Status = 0x02
	StatusUnsupported    Status = 0x03
	StatusKeepUNDI       Status = 0x04
	StatusKeepAll        Status = 0x05
	StatusOutOfResources Status = 0x06
)

// ARP family.
const (
	StatusARPCanceled Status = 0x10
	StatusARPTimeout  Status = 0x11
)

// UDP/TFTP open-state family.
const (
	StatusUDPClosed  Status = 0x18
	StatusUDPOpen    Status = 0x19
	StatusTFTPClosed Status = 0x1A
	StatusTFTPOpen   Status = 0x1B
)

const StatusMcopyProblem Status = 0x20

// TFTP transfer family.
const (
	StatusTFTPCannotARP                  Status = 0x30
	StatusTFTPOpenCanceled                Status = 0x31
	StatusTFTPOpenTimeout                 Status = 0x32
	StatusTFTPUnknownOpcode               Status = 0x33
	StatusTFTPReadCanceled                Status = 0x34
	StatusTFTPReadTimeout                 Status = 0x35
	StatusTFTPErrorOpcode                 Status = 0x36
	StatusTFTPCannotOpenConnection        Status = 0x38
	StatusTFTPCannotReadFromConnection    Status = 0x39
	StatusTFTPTooManyPackages             Status = 0x3A
	StatusTFTPFileNotFound                Status = 0x3B
	StatusTFTPAccessViolation             Status = 0x3C
	StatusTFTPNoMcastAddress              Status = 0x3D
	StatusTFTPNoFilesize                  Status = 0x3E
	StatusTFTPInvalidPacketSize           Status = 0x3F
)

// BOOTP/DHCP family.
const (
	StatusBOOTPCanceled      Status = 0x40
	StatusBOOTPTimeout       Status = 0x41
	StatusBOOTPNoFile        Status = 0x42
	StatusDHCPCanceled       Status = 0x50
	StatusDHCPTimeout        Status = 0x51
	StatusDHCPNoIPAddress    Status = 0x52
	StatusDHCPNoBootfileName Status = 0x53
	StatusDHCPBadIPAddress   Status = 0x54
)

// UNDI family.
const (
	StatusUNDIInvalidFunction      Status = 0x60
	StatusUNDIMediatestFailed      Status = 0x61
	StatusUNDICannotInitNICMcast   Status = 0x62
	StatusUNDICannotInitializeNIC  Status = 0x63
	StatusUNDICannotInitializePHY  Status = 0x64
	StatusUNDICannotReadConfigData Status = 0x65
	StatusUNDICannotReadInitData   Status = 0x66
	StatusUNDIBadMacAddress        Status = 0x67
	StatusUNDIBadEepromChecksum    Status = 0x68
	StatusUNDIErrorSettingISR      Status = 0x69
	StatusUNDIInvalidState         Status = 0x6A
	StatusUNDITransmitError        Status = 0x6B
	StatusUNDIInvalidParameter     Status = 0x6C
)

// Bootstrap-server family.
const (
	StatusBstrapPromptMenu  Status = 0x74
	StatusBstrapMcastAddr   Status = 0x76
	StatusBstrapMissingList Status = 0x77
	StatusBstrapNoResponse  Status = 0x78
	StatusBstrapFileTooBig  Status = 0x79
)

// String renders a status using its PXE spec mnemonic where known.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "STATUS_UNKNOWN"
}

var statusNames = map[Status]string{
	StatusSuccess:        "SUCCESS",
	StatusFailure:        "FAILURE",
	StatusBadFunc:        "BAD_FUNC",
	StatusUnsupported:    "UNSUPPORTED",
	StatusKeepUNDI:       "KEEP_UNDI",
	StatusKeepAll:        "KEEP_ALL",
	StatusOutOfResources: "OUT_OF_RESOURCES",
	StatusUNDIInvalidState:     "UNDI_INVALID_STATE",
	StatusUNDIInvalidParameter: "UNDI_INVALID_PARAMETER",
}

// Exit is the PXENV_EXIT_t value every handler returns alongside Status.
type Exit uint16

const (
	ExitSuccess Exit = 0
	ExitFailure Exit = 1
)
