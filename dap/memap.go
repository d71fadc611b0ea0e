package dap

import (
	"context"

	"github.com/pkg/errors"
)

// MEM-AP register addresses on AP 0; bits 31..24 of an AP address select the
// access port, bits 7..4 the register bank.
const (
	MEM_AP_CSW uint32 = 0x00
	MEM_AP_TAR uint32 = 0x04
	MEM_AP_DRW uint32 = 0x0c
	MEM_AP_IDR uint32 = 0xfc

	CSW_SIZE8    uint32 = 0x00
	CSW_SIZE16   uint32 = 0x01
	CSW_SIZE32   uint32 = 0x02
	CSW_SADDRINC uint32 = 0x10
	CSW_DBGSTAT  uint32 = 0x40
	CSW_HPROT    uint32 = 0x02000000
	CSW_MSTRDBG  uint32 = 0x20000000
	CSW_RESERVED uint32 = 0x01000000

	CSW_VALUE = CSW_RESERVED | CSW_MSTRDBG | CSW_HPROT | CSW_DBGSTAT | CSW_SADDRINC

	// TAR auto increment wraps inside this window
	autoIncrementPage = 0x400
)

func (p *Port) selectBank(ctx context.Context, addr uint32, force bool) error {
	sel := addr & 0xff0000f0
	if !force && p.selectValid && p.selectValue == sel {
		return nil
	}
	p.selectValid = false
	if err := p.WriteRegister(ctx, DP_SELECT, sel); err != nil {
		return errors.Wrap(err, "select AP bank")
	}
	p.selectValue = sel
	p.selectValid = true
	return nil
}

func apRegister(addr uint32) Register {
	return Register(4 + (addr&0x0c)>>2)
}

func (p *Port) ReadAP(ctx context.Context, addr uint32) (uint32, error) {
	if err := p.selectBank(ctx, addr, false); err != nil {
		return 0, err
	}
	return p.ReadRegister(ctx, apRegister(addr))
}

func (p *Port) WriteAP(ctx context.Context, addr uint32, value uint32) error {
	if err := p.selectBank(ctx, addr, false); err != nil {
		return err
	}
	return p.WriteRegister(ctx, apRegister(addr), value)
}

func (p *Port) setupAccess(ctx context.Context, addr uint32) error {
	if err := p.WriteAP(ctx, MEM_AP_CSW, CSW_VALUE|CSW_SIZE32); err != nil {
		return err
	}
	return p.WriteAP(ctx, MEM_AP_TAR, addr)
}

func (p *Port) ReadMem32(ctx context.Context, addr uint32) (uint32, error) {
	if err := p.setupAccess(ctx, addr); err != nil {
		return 0, errors.Wrapf(err, "read %#08x", addr)
	}
	v, err := p.ReadAP(ctx, MEM_AP_DRW)
	return v, errors.Wrapf(err, "read %#08x", addr)
}

func (p *Port) WriteMem32(ctx context.Context, addr uint32, value uint32) error {
	if err := p.setupAccess(ctx, addr); err != nil {
		return errors.Wrapf(err, "write %#08x", addr)
	}
	return errors.Wrapf(p.WriteAP(ctx, MEM_AP_DRW, value), "write %#08x", addr)
}

// blockChunks calls fn for each run of words that stays inside one TAR auto
// increment window.
func blockChunks(addr uint32, words int, fn func(addr uint32, words int) error) error {
	for words > 0 {
		n := int(autoIncrementPage-addr%autoIncrementPage) / 4
		if n > words {
			n = words
		}
		if err := fn(addr, n); err != nil {
			return err
		}
		addr += uint32(n * 4)
		words -= n
	}
	return nil
}

// ReadBlock reads count words starting at the word aligned address addr.
func (p *Port) ReadBlock(ctx context.Context, addr uint32, count int) ([]uint32, error) {
	if addr&3 != 0 {
		return nil, errors.Errorf("unaligned block read at %#08x", addr)
	}
	res := make([]uint32, 0, count)

	err := blockChunks(addr, count, func(chunkAddr uint32, n int) error {
		if err := p.setupAccess(ctx, chunkAddr); err != nil {
			return err
		}
		if err := p.selectBank(ctx, MEM_AP_DRW, false); err != nil {
			return err
		}
		for n > 0 {
			burst := n
			if burst > MaxReadBurst {
				burst = MaxReadBurst
			}
			if max := (p.packetSize - 3) / 4; burst > max {
				burst = max
			}
			raw, err := p.ReadRegisterBurst(ctx, AP_DRW, burst)
			if err != nil {
				return err
			}
			for i := 0; i < burst; i++ {
				res = append(res, getUint32(raw[4*i:]))
			}
			n -= burst
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read block %#08x", addr)
	}
	return res, nil
}

// WriteBlock writes words starting at the word aligned address addr.
func (p *Port) WriteBlock(ctx context.Context, addr uint32, words []uint32) error {
	if addr&3 != 0 {
		return errors.Errorf("unaligned block write at %#08x", addr)
	}
	rest := words

	err := blockChunks(addr, len(words), func(chunkAddr uint32, n int) error {
		if err := p.setupAccess(ctx, chunkAddr); err != nil {
			return err
		}
		if err := p.selectBank(ctx, MEM_AP_DRW, false); err != nil {
			return err
		}
		for n > 0 {
			burst := n
			if max := p.MaxWriteBurst(); burst > max {
				burst = max
			}
			if err := p.WriteRegisterBurst(ctx, AP_DRW, rest[:burst]); err != nil {
				return err
			}
			rest = rest[burst:]
			n -= burst
		}
		return nil
	})
	return errors.Wrapf(err, "write block %#08x", addr)
}
