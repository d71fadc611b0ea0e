package link

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mame82/dapflash/dap"
)

// Cortex-M debug registers
const (
	DHCSR uint32 = 0xe000edf0
	DCRSR uint32 = 0xe000edf4
	DCRDR uint32 = 0xe000edf8
	DEMCR uint32 = 0xe000edfc
	AIRCR uint32 = 0xe000ed0c
	DFSR  uint32 = 0xe000ed30

	DBGKEY     uint32 = 0xa05f0000
	C_DEBUGEN  uint32 = 1 << 0
	C_HALT     uint32 = 1 << 1
	S_REGRDY   uint32 = 1 << 16
	S_HALT     uint32 = 1 << 17
	S_RESET_ST uint32 = 1 << 25

	DCRSR_REGWnR uint32 = 1 << 16

	DEMCR_VC_CORERESET uint32 = 1 << 0

	AIRCR_SYSRESETREQ uint32 = 0x05fa0004

	DFSR_CLEAR uint32 = 0x1f
)

// Core register numbers as used by DCRSR
const (
	REG_SP   = 13
	REG_LR   = 14
	REG_PC   = 15
	REG_XPSR = 16

	// MaxArgs is the number of general purpose registers ExecuteAt may set.
	MaxArgs = 12

	xpsrThumb uint32 = 0x01000000

	regReadyPolls = 100
)

func (l *Link) haltLocked(ctx context.Context, port *dap.Port) error {
	return errors.Wrap(port.WriteMem32(ctx, DHCSR, DBGKEY|C_DEBUGEN|C_HALT), "halt")
}

func (l *Link) resumeLocked(ctx context.Context, port *dap.Port) error {
	if err := port.WriteMem32(ctx, DFSR, DFSR_CLEAR); err != nil {
		return errors.Wrap(err, "clear DFSR")
	}
	return errors.Wrap(port.WriteMem32(ctx, DHCSR, DBGKEY|C_DEBUGEN), "resume")
}

func isHalted(ctx context.Context, port *dap.Port) (bool, error) {
	dhcsr, err := port.ReadMem32(ctx, DHCSR)
	if err != nil {
		return false, err
	}
	return dhcsr&S_HALT != 0, nil
}

func (l *Link) Halt(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}
	return l.haltLocked(ctx, port)
}

func (l *Link) Resume(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}
	return l.resumeLocked(ctx, port)
}

func (l *Link) IsHalted(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return false, err
	}
	return isHalted(ctx, port)
}

// pollUntil calls check until it reports true or the deadline passes.
func (l *Link) pollUntil(ctx context.Context, op string, timeout time.Duration, check func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return &TimeoutError{Op: op, After: timeout}
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), op)
		case <-time.After(l.cfg.pollInterval):
		}
	}
}

// WaitForHalt polls the core until it halts. A zero timeout uses the
// configured default. The link is only locked per poll, so other operations
// may run while the core executes.
func (l *Link) WaitForHalt(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = l.cfg.haltTimeout
	}
	return l.pollUntil(ctx, "wait for halt", timeout, func() (bool, error) {
		return l.IsHalted(ctx)
	})
}

func (l *Link) waitForHaltLocked(ctx context.Context, port *dap.Port, timeout time.Duration) error {
	return l.pollUntil(ctx, "wait for halt", timeout, func() (bool, error) {
		return isHalted(ctx, port)
	})
}

func (l *Link) waitRegReady(ctx context.Context, port *dap.Port) error {
	for i := 0; i < regReadyPolls; i++ {
		dhcsr, err := port.ReadMem32(ctx, DHCSR)
		if err != nil {
			return err
		}
		if dhcsr&S_REGRDY != 0 {
			return nil
		}
	}
	return &TimeoutError{Op: "core register transfer"}
}

func (l *Link) readCoreRegisterLocked(ctx context.Context, port *dap.Port, reg int) (uint32, error) {
	if err := port.WriteMem32(ctx, DCRSR, uint32(reg)); err != nil {
		return 0, err
	}
	if err := l.waitRegReady(ctx, port); err != nil {
		return 0, err
	}
	return port.ReadMem32(ctx, DCRDR)
}

func (l *Link) writeCoreRegisterLocked(ctx context.Context, port *dap.Port, reg int, value uint32) error {
	if err := port.WriteMem32(ctx, DCRDR, value); err != nil {
		return err
	}
	if err := port.WriteMem32(ctx, DCRSR, uint32(reg)|DCRSR_REGWnR); err != nil {
		return err
	}
	return l.waitRegReady(ctx, port)
}

func (l *Link) ReadCoreRegister(ctx context.Context, reg int) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return 0, err
	}
	v, err := l.readCoreRegisterLocked(ctx, port, reg)
	return v, errors.Wrapf(err, "read core register %d", reg)
}

func (l *Link) WriteCoreRegister(ctx context.Context, reg int, value uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}
	return errors.Wrapf(l.writeCoreRegisterLocked(ctx, port, reg, value), "write core register %d", reg)
}

// Reset requests a system reset through AIRCR. With halt set the core is
// caught by the reset vector catch and Reset returns once it is halted.
func (l *Link) Reset(ctx context.Context, halt bool) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}

	var demcr uint32
	if halt {
		if err = l.haltLocked(ctx, port); err != nil {
			return err
		}
		if demcr, err = port.ReadMem32(ctx, DEMCR); err != nil {
			return errors.Wrap(err, "read DEMCR")
		}
		if err = port.WriteMem32(ctx, DEMCR, demcr|DEMCR_VC_CORERESET); err != nil {
			return errors.Wrap(err, "arm reset vector catch")
		}
	}

	if err = port.WriteMem32(ctx, AIRCR, AIRCR_SYSRESETREQ); err != nil {
		return errors.Wrap(err, "request reset")
	}
	// S_RESET_ST is sticky and clears on read once the reset is over
	err = l.pollUntil(ctx, "reset", l.cfg.haltTimeout, func() (bool, error) {
		dhcsr, err := port.ReadMem32(ctx, DHCSR)
		return dhcsr&S_RESET_ST == 0, err
	})
	if err != nil {
		return err
	}
	log.Debugf("target reset, halt=%v", halt)

	if halt {
		if err = l.waitForHaltLocked(ctx, port, l.cfg.haltTimeout); err != nil {
			return err
		}
		if err = port.WriteMem32(ctx, DEMCR, demcr); err != nil {
			return errors.Wrap(err, "restore DEMCR")
		}
	}
	return nil
}

// HardwareReset pulses the reset line through the probe (DAP_ResetTarget).
func (l *Link) HardwareReset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}
	return errors.Wrap(port.ResetTarget(ctx), "hardware reset")
}

// InterfaceReset has the DAPLink interface firmware reset the target.
func (l *Link) InterfaceReset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}
	return errors.Wrap(port.FlashReset(ctx), "interface reset")
}

// ExecuteAt loads code at address and starts it with the given stack
// pointer, program counter and link register; regs go to R0 upwards. It
// returns as soon as the core runs. The code is expected to end in a
// breakpoint, see WaitForHalt.
func (l *Link) ExecuteAt(ctx context.Context, address uint32, code []uint32, sp, pc, lr uint32, regs ...uint32) error {
	if len(regs) > MaxArgs {
		return errors.Wrapf(ErrInvalidArgument, "%d register arguments, at most %d", len(regs), MaxArgs)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}

	if err = l.haltLocked(ctx, port); err != nil {
		return err
	}
	if err = port.WriteBlock(ctx, address, code); err != nil {
		return errors.Wrap(err, "upload code")
	}
	for i, v := range regs {
		if err = l.writeCoreRegisterLocked(ctx, port, i, v); err != nil {
			return errors.Wrapf(err, "set R%d", i)
		}
	}
	for _, r := range []struct {
		reg   int
		value uint32
	}{
		{REG_SP, sp},
		{REG_LR, lr},
		{REG_PC, pc},
		{REG_XPSR, xpsrThumb},
	} {
		if err = l.writeCoreRegisterLocked(ctx, port, r.reg, r.value); err != nil {
			return errors.Wrapf(err, "set core register %d", r.reg)
		}
	}
	return l.resumeLocked(ctx, port)
}
