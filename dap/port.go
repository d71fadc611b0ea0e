package dap

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// MaxReadBurst bounds the number of reads issued in one DAP_Transfer.
	MaxReadBurst = 15

	ctrlStatPowerUpReq = 0x50000000
	ctrlStatPowerUpAck = 0xa0000000
	abortClearAll      = 0x1e

	powerUpPolls = 100
)

// Port speaks CMSIS-DAP over a Transport. Every request/response pair is
// exclusive; sequences of several commands (AP bank select followed by an
// access, memory blocks) must be serialized by the caller.
type Port struct {
	t   Transport
	cfg config

	mu         sync.Mutex
	packetSize int

	selectValid bool
	selectValue uint32
}

func NewPort(t Transport, opts ...Option) *Port {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Port{
		t:          t,
		cfg:        cfg,
		packetSize: DefaultPacketSize,
	}
}

// PacketSize is the probe packet size as reported by DAP_Info. It is only
// meaningful after Connect.
func (p *Port) PacketSize() int {
	return p.packetSize
}

func (p *Port) exchange(ctx context.Context, req []byte) (rsp []byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.showInOut {
		log.Debugf("Out: % x", req)
	}
	rsp, err = p.t.Exchange(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "exchange %s", Command(req[0]))
	}
	if p.cfg.showInOut {
		log.Debugf("In : % x", rsp)
	}
	return rsp, nil
}

// Command sends cmd with the given payload and returns the response payload
// following the echoed opcode.
func (p *Port) Command(ctx context.Context, cmd Command, data ...byte) ([]byte, error) {
	out := Packet{Cmd: cmd, Data: data}
	req, _ := out.ToWire()

	rsp, err := p.exchange(ctx, req)
	if err != nil {
		return nil, err
	}

	in := Packet{}
	if err = in.FromWire(rsp); err != nil {
		return nil, err
	}
	if in.Cmd != cmd {
		return nil, &ProtocolError{Op: "command", Command: cmd, Got: rsp, Msg: "unexpected response opcode"}
	}
	return in.Data, nil
}

// statusCommand runs a command answered with a single DAP_OK status byte.
func (p *Port) statusCommand(ctx context.Context, cmd Command, data ...byte) error {
	rsp, err := p.Command(ctx, cmd, data...)
	if err != nil {
		return err
	}
	if len(rsp) < 1 || rsp[0] != DAP_OK {
		return &ProtocolError{Op: "status", Command: cmd, Got: rsp, Msg: "command failed"}
	}
	return nil
}

func (p *Port) Info(ctx context.Context, id InfoID) ([]byte, error) {
	rsp, err := p.Command(ctx, DAP_COMMAND_INFO, byte(id))
	if err != nil {
		return nil, err
	}
	if len(rsp) < 1 || len(rsp) < 1+int(rsp[0]) {
		return nil, &ProtocolError{Op: "info", Command: DAP_COMMAND_INFO, Got: rsp, Msg: "short response"}
	}
	return rsp[1 : 1+int(rsp[0])], nil
}

// SerialNumber returns the probe serial string, which on DAPLink encodes the
// board id, family id and interface firmware.
func (p *Port) SerialNumber(ctx context.Context) (string, error) {
	raw, err := p.Info(ctx, DAP_INFO_SERIAL)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw), "\x00"), nil
}

func (p *Port) readPacketSize(ctx context.Context) (int, error) {
	raw, err := p.Info(ctx, DAP_INFO_PACKET_SIZE)
	if err != nil {
		return 0, err
	}
	if len(raw) != 2 {
		return 0, &ProtocolError{Op: "packet size", Command: DAP_COMMAND_INFO, Got: raw, Msg: "expected 2 bytes"}
	}
	size := int(raw[0]) | int(raw[1])<<8
	if size < 8 {
		return 0, &ProtocolError{Op: "packet size", Command: DAP_COMMAND_INFO, Got: raw, Msg: "packet size too small"}
	}
	return size, nil
}

// Connect switches the probe to SWD, brings up the debug port and powers the
// debug and system domains.
func (p *Port) Connect(ctx context.Context) (err error) {
	if p.packetSize, err = p.readPacketSize(ctx); err != nil {
		return err
	}
	log.Debugf("CMSIS-DAP packet size %d", p.packetSize)

	rsp, err := p.Command(ctx, DAP_COMMAND_CONNECT, DAP_PORT_SWD)
	if err != nil {
		return err
	}
	if len(rsp) < 1 || rsp[0] != DAP_PORT_SWD {
		return &ProtocolError{Op: "connect", Command: DAP_COMMAND_CONNECT, Got: rsp, Msg: "probe refused SWD"}
	}

	clk := make([]byte, 4)
	putUint32(clk, p.cfg.clock)
	if err = p.statusCommand(ctx, DAP_COMMAND_SWJ_CLOCK, clk...); err != nil {
		return err
	}
	// idle cycles 0, WAIT retries 0x50, match retries 0
	if err = p.statusCommand(ctx, DAP_COMMAND_TRANSFER_CONFIGURE, 0, 0x50, 0, 0, 0); err != nil {
		return err
	}
	if err = p.statusCommand(ctx, DAP_COMMAND_SWD_CONFIGURE, 0); err != nil {
		return err
	}
	if err = p.jtagToSWD(ctx); err != nil {
		return err
	}
	p.selectValid = false

	idcode, err := p.ReadRegister(ctx, DP_IDCODE)
	if err != nil {
		return errors.Wrap(err, "read DP IDCODE")
	}
	log.Debugf("DP IDCODE %#08x", idcode)

	if err = p.WriteRegister(ctx, DP_ABORT, abortClearAll); err != nil {
		return err
	}
	if err = p.WriteRegister(ctx, DP_CTRL_STAT, ctrlStatPowerUpReq); err != nil {
		return err
	}
	for i := 0; ; i++ {
		v, err := p.ReadRegister(ctx, DP_CTRL_STAT)
		if err != nil {
			return err
		}
		if v&ctrlStatPowerUpAck == ctrlStatPowerUpAck {
			break
		}
		if i >= powerUpPolls {
			return &ProtocolError{Op: "power up", Command: DAP_COMMAND_TRANSFER, Msg: "debug power up not acknowledged"}
		}
	}

	return p.selectBank(ctx, 0, true)
}

func (p *Port) jtagToSWD(ctx context.Context) error {
	lineReset := []byte{64, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	for _, seq := range [][]byte{
		lineReset,
		{16, 0x9e, 0xe7},
		lineReset,
		{8, 0x00},
	} {
		if err := p.statusCommand(ctx, DAP_COMMAND_SWJ_SEQUENCE, seq...); err != nil {
			return err
		}
	}
	return nil
}

func (p *Port) Disconnect(ctx context.Context) error {
	p.selectValid = false
	return p.statusCommand(ctx, DAP_COMMAND_DISCONNECT)
}

// ResetTarget asks the probe to run its hardware reset sequence.
func (p *Port) ResetTarget(ctx context.Context) error {
	return p.statusCommand(ctx, DAP_COMMAND_RESET_TARGET)
}

// ReadRegisterBurst reads reg count times within a single DAP_Transfer and
// returns the raw little endian words.
func (p *Port) ReadRegisterBurst(ctx context.Context, reg Register, count int) ([]byte, error) {
	max := MaxReadBurst
	if n := (p.packetSize - 3) / 4; n < max {
		max = n
	}
	if count < 1 || count > max {
		return nil, errors.Errorf("read burst of %d words out of range 1..%d", count, max)
	}

	req := make([]byte, 2+count)
	req[0] = 0 // DAP index
	req[1] = byte(count)
	for i := 0; i < count; i++ {
		req[2+i] = reg.Request(true)
	}

	rsp, err := p.Command(ctx, DAP_COMMAND_TRANSFER, req...)
	if err != nil {
		return nil, err
	}
	if len(rsp) < 2 {
		return nil, &ProtocolError{Op: "read burst", Command: DAP_COMMAND_TRANSFER, Got: rsp, Msg: "short response"}
	}
	if int(rsp[0]) != count || rsp[1] != ACK_OK {
		return nil, &TransferError{Op: "read burst", Count: int(rsp[0]), Want: count, Ack: rsp[1]}
	}
	if len(rsp) < 2+4*count {
		return nil, &ProtocolError{Op: "read burst", Command: DAP_COMMAND_TRANSFER, Got: rsp, Msg: "missing data"}
	}
	return rsp[2 : 2+4*count], nil
}

// WriteRegisterBurst writes words to reg with one DAP_TransferBlock. A WAIT
// acknowledge makes it resend the whole block after the configured delay,
// for as long as the target keeps answering WAIT.
func (p *Port) WriteRegisterBurst(ctx context.Context, reg Register, words []uint32) error {
	if max := p.MaxWriteBurst(); len(words) < 1 || len(words) > max {
		return errors.Errorf("write burst of %d words out of range 1..%d", len(words), max)
	}

	req := make([]byte, 4+4*len(words))
	req[0] = 0 // DAP index
	req[1] = byte(len(words))
	req[2] = byte(len(words) >> 8)
	req[3] = reg.Request(false)
	for i, w := range words {
		putUint32(req[4+4*i:], w)
	}

	for {
		rsp, err := p.Command(ctx, DAP_COMMAND_TRANSFER_BLOCK, req...)
		if err != nil {
			return err
		}
		if len(rsp) < 3 {
			return &ProtocolError{Op: "write burst", Command: DAP_COMMAND_TRANSFER_BLOCK, Got: rsp, Msg: "short response"}
		}
		count := int(rsp[0]) | int(rsp[1])<<8
		ack := rsp[2]

		if ack == ACK_WAIT {
			log.Debugf("write burst to %d answered WAIT, retrying", reg)
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "write burst")
			case <-time.After(p.cfg.waitRetryDelay):
			}
			continue
		}
		if count != len(words) || ack != ACK_OK {
			return &TransferError{Op: "write burst", Count: count, Want: len(words), Ack: ack}
		}
		return nil
	}
}

// MaxWriteBurst is the number of words fitting one DAP_TransferBlock.
func (p *Port) MaxWriteBurst() int {
	return (p.packetSize - 5) / 4
}

func (p *Port) ReadRegister(ctx context.Context, reg Register) (uint32, error) {
	raw, err := p.ReadRegisterBurst(ctx, reg, 1)
	if err != nil {
		return 0, err
	}
	return getUint32(raw), nil
}

func (p *Port) WriteRegister(ctx context.Context, reg Register, value uint32) error {
	return p.WriteRegisterBurst(ctx, reg, []uint32{value})
}
