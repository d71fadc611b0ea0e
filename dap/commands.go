package dap

import "fmt"

/*
CMSIS-DAP request packet:
guint8		cmd;
guint8 		data[packetSize-1];

The response echoes cmd in its first byte.
*/

type Command byte

const (
	DAP_COMMAND_INFO               Command = 0x00
	DAP_COMMAND_CONNECT            Command = 0x02
	DAP_COMMAND_DISCONNECT         Command = 0x03
	DAP_COMMAND_TRANSFER_CONFIGURE Command = 0x04
	DAP_COMMAND_TRANSFER           Command = 0x05
	DAP_COMMAND_TRANSFER_BLOCK     Command = 0x06
	DAP_COMMAND_RESET_TARGET       Command = 0x0a
	DAP_COMMAND_SWJ_CLOCK          Command = 0x11
	DAP_COMMAND_SWJ_SEQUENCE       Command = 0x12
	DAP_COMMAND_SWD_CONFIGURE      Command = 0x13

	// DAPLink vendor commands for drag'n'drop style flashing
	DAPLINK_COMMAND_FLASH_RESET Command = 0x89
	DAPLINK_COMMAND_FLASH_OPEN  Command = 0x8a
	DAPLINK_COMMAND_FLASH_CLOSE Command = 0x8b
	DAPLINK_COMMAND_FLASH_WRITE Command = 0x8c
)

var commandNames = map[Command]string{
	DAP_COMMAND_INFO:               "DAP_Info",
	DAP_COMMAND_CONNECT:            "DAP_Connect",
	DAP_COMMAND_DISCONNECT:         "DAP_Disconnect",
	DAP_COMMAND_TRANSFER_CONFIGURE: "DAP_TransferConfigure",
	DAP_COMMAND_TRANSFER:           "DAP_Transfer",
	DAP_COMMAND_TRANSFER_BLOCK:     "DAP_TransferBlock",
	DAP_COMMAND_RESET_TARGET:       "DAP_ResetTarget",
	DAP_COMMAND_SWJ_CLOCK:          "DAP_SWJ_Clock",
	DAP_COMMAND_SWJ_SEQUENCE:       "DAP_SWJ_Sequence",
	DAP_COMMAND_SWD_CONFIGURE:      "DAP_SWD_Configure",
	DAPLINK_COMMAND_FLASH_RESET:    "DAPLink_FlashReset",
	DAPLINK_COMMAND_FLASH_OPEN:     "DAPLink_FlashOpen",
	DAPLINK_COMMAND_FLASH_CLOSE:    "DAPLink_FlashClose",
	DAPLINK_COMMAND_FLASH_WRITE:    "DAPLink_FlashWrite",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("DAP_Command(%#02x)", byte(c))
}

type InfoID byte

const (
	DAP_INFO_VENDOR      InfoID = 0x01
	DAP_INFO_PRODUCT     InfoID = 0x02
	DAP_INFO_SERIAL      InfoID = 0x03
	DAP_INFO_FW_VERSION  InfoID = 0x04
	DAP_INFO_CAPABILITY  InfoID = 0xf0
	DAP_INFO_PACKET_SIZE InfoID = 0xff
)

const (
	DAP_OK    byte = 0x00
	DAP_ERROR byte = 0xff

	DAP_PORT_SWD byte = 0x01
)

// Transfer acknowledges, as reported in the status byte of DAP_Transfer(Block)
const (
	ACK_OK    byte = 0x01
	ACK_WAIT  byte = 0x02
	ACK_FAULT byte = 0x04
)

// Register is a debug register id: 0..3 address DP registers, 4..7 the
// registers of the currently selected AP bank.
type Register byte

const (
	DP_IDCODE    Register = 0 // read
	DP_ABORT     Register = 0 // write
	DP_CTRL_STAT Register = 1
	DP_SELECT    Register = 2
	DP_RDBUFF    Register = 3

	AP_CSW Register = 4
	AP_TAR Register = 5
	AP_0x8 Register = 6
	AP_DRW Register = 7
)

const (
	requestAPnDP = 0x01
	requestRnW   = 0x02
)

// IsAP reports whether r addresses an access port register.
func (r Register) IsAP() bool {
	return r >= 4
}

// Request returns the DAP_Transfer request byte for r.
func (r Register) Request(read bool) byte {
	req := byte(r&3) << 2
	if r.IsAP() {
		req |= requestAPnDP
	}
	if read {
		req |= requestRnW
	}
	return req
}

type Packet struct {
	Cmd  Command
	Data []byte
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s: % x", p.Cmd, p.Data)
}

func (p *Packet) FromWire(payload []byte) (err error) {
	if len(payload) < 1 {
		return &ProtocolError{Op: "decode", Msg: "empty packet"}
	}
	p.Cmd = Command(payload[0])
	p.Data = payload[1:]
	return nil
}

func (p *Packet) ToWire() (payload []byte, err error) {
	payload = make([]byte, 1+len(p.Data))
	payload[0] = byte(p.Cmd)
	copy(payload[1:], p.Data)
	return payload, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
