// Package daptest provides an in-memory CMSIS-DAP probe attached to a
// simulated Cortex-M target, for tests of code built on dap.Transport.
package daptest

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

const (
	IDCODE = 0x0bb11477

	DHCSR = 0xe000edf0
	DCRSR = 0xe000edf4
	DCRDR = 0xe000edf8
	DEMCR = 0xe000edfc
	AIRCR = 0xe000ed0c
	DFSR  = 0xe000ed30

	FICR_CODEPAGESIZE = 0x10000010
	FICR_CODESIZE     = 0x10000014

	dbgKey      = 0xa05f0000
	sResetSt    = 1 << 25
	sHalt       = 1 << 17
	sRegRdy     = 1 << 16
	cHalt       = 1 << 1
	cDebugEn    = 1 << 0
	regWnR      = 1 << 16
	vcCoreReset = 1 << 0
	sysResetReq = 0x05fa0004

	ackOK    = 0x01
	ackWait  = 0x02
	ackFault = 0x04
)

// DefaultSerial is a micro:bit V2 DAPLink serial: board 9904, family 1234.
const DefaultSerial = "990412340000000000000000000000000000000000000000"

// Runner is called when the simulated core resumes. It sees the core
// registers and memory and returns whether the core halts again.
type Runner func(p *Probe) bool

type Probe struct {
	mu sync.Mutex

	PacketSize int
	Serial     string

	// Failure injection, each counter is decremented per use.
	WaitAcks      int // block writes answered WAIT
	FaultReads    int // transfers with reads answered FAULT
	FailFlashOpen int // DAPLink flash open answered with an error
	BadTransfers  int // DAP_Transfer answered with a wrong opcode

	// BlockReset makes the next AIRCR reset request hang until
	// the request context ends.
	BlockReset bool

	Run Runner

	Regs   [32]uint32
	Halted bool

	FlashStream []byte
	Commands    []byte
	Opens       int
	Closes      int

	mem      map[uint32]uint32
	open     bool
	debugEn  bool
	resetSt  bool
	dcrdr    uint32
	selected uint32
	ctrlStat uint32
	csw, tar uint32
}

// New returns a probe with a target of pageCount flash pages of pageSize
// bytes, erased to 0xff.
func New(pageSize, pageCount uint32) *Probe {
	p := &Probe{
		PacketSize: 64,
		Serial:     DefaultSerial,
		mem:        map[uint32]uint32{},
	}
	p.mem[FICR_CODEPAGESIZE] = pageSize
	p.mem[FICR_CODESIZE] = pageCount
	for a := uint32(0); a < pageSize*pageCount; a += 4 {
		p.mem[a] = 0xffffffff
	}
	return p
}

func (p *Probe) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	p.Opens++
	return nil
}

func (p *Probe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.Closes++
	return nil
}

// Read32 and Write32 access simulated memory without side effects.
func (p *Probe) Read32(addr uint32) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mem[addr]
}

func (p *Probe) Write32(addr, v uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mem[addr] = v
}

// Load copies data to addr, padding the last word with 0xff.
func (p *Probe) Load(addr uint32, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < len(data); i += 4 {
		w := []byte{0xff, 0xff, 0xff, 0xff}
		copy(w, data[i:])
		p.mem[addr+uint32(i)] = binary.LittleEndian.Uint32(w)
	}
}

func (p *Probe) Dump(addr uint32, n int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dump(addr, n)
}

func (p *Probe) dump(addr uint32, n int) []byte {
	res := make([]byte, n)
	for i := 0; i < n; i += 4 {
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], p.mem[addr+uint32(i)])
		copy(res[i:], w[:])
	}
	return res
}

// Mem gives a Runner direct word access while the probe lock is held.
func (p *Probe) Mem() map[uint32]uint32 {
	return p.mem
}

func (p *Probe) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return nil, errors.New("probe not open")
	}
	if len(req) > p.PacketSize {
		p.mu.Unlock()
		return nil, errors.Errorf("request of %d bytes exceeds packet size", len(req))
	}
	p.Commands = append(p.Commands, req[0])

	if p.BlockReset && isResetRequest(req) {
		p.BlockReset = false
		p.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer p.mu.Unlock()

	switch req[0] {
	case 0x00:
		return p.info(req[1]), nil
	case 0x02:
		return []byte{0x02, 0x01}, nil
	case 0x03, 0x04, 0x0a, 0x11, 0x12, 0x13, 0x89, 0x8b:
		return []byte{req[0], 0x00}, nil
	case 0x05:
		if p.BadTransfers > 0 {
			p.BadTransfers--
			return []byte{0xff, 0x00}, nil
		}
		return p.transfer(req), nil
	case 0x06:
		return p.transferBlock(req), nil
	case 0x8a:
		if p.FailFlashOpen > 0 {
			p.FailFlashOpen--
			return []byte{0x8a, 0xff}, nil
		}
		p.FlashStream = p.FlashStream[:0]
		return []byte{0x8a, 0x00}, nil
	case 0x8c:
		n := int(req[1])
		p.FlashStream = append(p.FlashStream, req[2:2+n]...)
		return []byte{0x8c, 0x00}, nil
	}
	return []byte{0xff}, nil
}

// isResetRequest spots a DAP_TransferBlock carrying the AIRCR reset key.
func isResetRequest(req []byte) bool {
	if req[0] != 0x06 || len(req) < 9 {
		return false
	}
	return binary.LittleEndian.Uint32(req[5:]) == sysResetReq
}

func (p *Probe) info(id byte) []byte {
	switch id {
	case 0xff:
		return []byte{0x00, 2, byte(p.PacketSize), byte(p.PacketSize >> 8)}
	case 0x03:
		s := append([]byte(p.Serial), 0)
		return append([]byte{0x00, byte(len(s))}, s...)
	}
	return []byte{0x00, 0}
}

func (p *Probe) transfer(req []byte) []byte {
	count := int(req[2])
	rest := req[3:]
	var data []byte
	done := 0
	ack := byte(ackOK)

	for i := 0; i < count; i++ {
		r := rest[0]
		rest = rest[1:]
		if r&0x02 != 0 {
			if p.FaultReads > 0 {
				p.FaultReads--
				ack = ackFault
				break
			}
			var w [4]byte
			binary.LittleEndian.PutUint32(w[:], p.readReg(r))
			data = append(data, w[:]...)
		} else {
			p.writeReg(r, binary.LittleEndian.Uint32(rest))
			rest = rest[4:]
		}
		done++
	}
	return append([]byte{0x05, byte(done), ack}, data...)
}

func (p *Probe) transferBlock(req []byte) []byte {
	count := int(req[2]) | int(req[3])<<8
	r := req[4]
	if p.WaitAcks > 0 {
		p.WaitAcks--
		return []byte{0x06, 0, 0, ackWait}
	}
	for i := 0; i < count; i++ {
		p.writeReg(r, binary.LittleEndian.Uint32(req[5+4*i:]))
	}
	return []byte{0x06, byte(count), byte(count >> 8), ackOK}
}

func (p *Probe) readReg(r byte) uint32 {
	a := uint32(r & 0x0c)
	if r&0x01 == 0 {
		switch a {
		case 0x0:
			return IDCODE
		case 0x4:
			return p.ctrlStat | (p.ctrlStat&0x50000000)<<1
		}
		return 0
	}
	switch p.selected&0xf0 | a {
	case 0x00:
		return p.csw
	case 0x04:
		return p.tar
	case 0x0c:
		v := p.readMem(p.tar)
		p.incrementTAR()
		return v
	}
	return 0
}

func (p *Probe) writeReg(r byte, v uint32) {
	a := uint32(r & 0x0c)
	if r&0x01 == 0 {
		switch a {
		case 0x4:
			p.ctrlStat = v
		case 0x8:
			p.selected = v
		}
		return
	}
	switch p.selected&0xf0 | a {
	case 0x00:
		p.csw = v
	case 0x04:
		p.tar = v
	case 0x0c:
		p.writeMem(p.tar, v)
		p.incrementTAR()
	}
}

// incrementTAR wraps inside the 1KB auto increment window like real MEM-APs.
func (p *Probe) incrementTAR() {
	if p.csw&0x30 == 0x10 {
		p.tar = p.tar&^0x3ff | (p.tar+4)&0x3ff
	}
}

func (p *Probe) readMem(addr uint32) uint32 {
	switch addr {
	case DHCSR:
		v := uint32(sRegRdy)
		if p.Halted {
			v |= sHalt
		}
		if p.debugEn {
			v |= cDebugEn
		}
		if p.resetSt {
			v |= sResetSt
			p.resetSt = false
		}
		return v
	case DCRDR:
		return p.dcrdr
	}
	return p.mem[addr]
}

func (p *Probe) writeMem(addr, v uint32) {
	switch addr {
	case DHCSR:
		if v&0xffff0000 != dbgKey {
			return
		}
		p.debugEn = v&cDebugEn != 0
		if v&cHalt != 0 {
			p.Halted = true
		} else if p.Halted {
			p.Halted = false
			if p.Run != nil {
				p.Halted = p.Run(p)
			}
		}
	case DCRSR:
		n := v & 0x1f
		if v&regWnR != 0 {
			p.Regs[n] = p.dcrdr
		} else {
			p.dcrdr = p.Regs[n]
		}
	case DCRDR:
		p.dcrdr = v
	case AIRCR:
		if v == sysResetReq {
			p.resetSt = true
			p.Halted = p.mem[DEMCR]&vcCoreReset != 0
		}
	case DFSR:
	default:
		p.mem[addr] = v
	}
}
