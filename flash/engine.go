// Package flash writes firmware images to the target, rewriting only the
// pages whose on-target checksum differs when that is the cheaper option.
package flash

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Target is the debug access the engine needs.
type Target interface {
	ExecuteAt(ctx context.Context, address uint32, code []uint32, sp, pc, lr uint32, regs ...uint32) error
	WaitForHalt(ctx context.Context, timeout time.Duration) error
	ReadWords(ctx context.Context, addr uint32, count int) ([]uint32, error)
	WriteMemory(ctx context.Context, addr uint32, data []byte) error
	Reset(ctx context.Context, halt bool) error
}

// FullFlasher programs a complete image given as Intel HEX.
type FullFlasher interface {
	FlashHex(ctx context.Context, hex []byte, progress func(float64)) error
}

type Geometry struct {
	PageSize  uint32
	PageCount uint32
	// FlashSize bounds the code region of a full write
	FlashSize uint32
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseChecksumRead
	PhaseDecide
	PhasePartialWrite
	PhaseFullWrite
	PhaseFallbackWrite
	PhaseReset
	PhaseDone
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseIdle:          "idle",
	PhaseChecksumRead:  "checksum read",
	PhaseDecide:        "decide",
	PhasePartialWrite:  "partial write",
	PhaseFullWrite:     "full write",
	PhaseFallbackWrite: "fallback write",
	PhaseReset:         "reset",
	PhaseDone:          "done",
	PhaseFailed:        "failed",
}

func (p Phase) String() string {
	return phaseNames[p]
}

type Result struct {
	Mode Mode
	// Pages is the number of aligned code region pages, Written the number
	// of pages programmed by a partial write.
	Pages       int
	Changed     int
	Written     int
	Fingerprint uint16
	// FallbackFrom holds the error of the preferred mode if the result was
	// reached by falling back.
	FallbackFrom error
}

func (r *Result) Partial() bool {
	return r != nil && r.Mode == ModePartial
}

type Engine struct {
	target Target
	full   FullFlasher
	cfg    config

	phase Phase
}

func NewEngine(target Target, full FullFlasher, opts ...Option) *Engine {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{target: target, full: full, cfg: cfg}
}

func (e *Engine) setPhase(p Phase) {
	if e.phase != p {
		log.Infof("flash: %s -> %s", e.phase, p)
	}
	e.phase = p
}

func (e *Engine) Phase() Phase {
	return e.phase
}

// ReadChecksums runs the checksum routine over the first pageCount pages of
// flash and returns one lane pair per page.
func (e *Engine) ReadChecksums(ctx context.Context, geo Geometry) (ChecksumTable, error) {
	err := e.target.ExecuteAt(ctx, LoadAddr, checksumStub, StackAddr, LoadAddr+1, 0xffffffff,
		DataAddr, 0, geo.PageSize, geo.PageCount)
	if err != nil {
		return nil, errors.Wrap(err, "start checksum routine")
	}
	if err = e.target.WaitForHalt(ctx, e.cfg.checksumTimeout); err != nil {
		return nil, errors.Wrap(err, "checksum routine")
	}
	words, err := e.target.ReadWords(ctx, DataAddr, 2*int(geo.PageCount))
	if err != nil {
		return nil, errors.Wrap(err, "read checksums")
	}
	return ParseChecksumTable(words), nil
}

// Plan reads the target checksums and diffs img against them.
func (e *Engine) Plan(ctx context.Context, img Image, geo Geometry) (*Plan, error) {
	table, err := e.ReadChecksums(ctx, geo)
	if err != nil {
		return nil, err
	}
	pages := AlignPages(img, geo.PageSize, geo.FlashSize, e.cfg.fill)
	return Diff(pages, table, geo.PageSize), nil
}

// Write flashes img, choosing between a full and a partial write. Progress
// is reported to the configured ProgressFunc, ending with one Done call.
func (e *Engine) Write(ctx context.Context, img Image, geo Geometry) (res *Result, err error) {
	rep := newReporter(e.cfg.progress)
	defer func() { rep.finish(res.Partial()) }()
	return e.write(ctx, img, geo, rep)
}

func (e *Engine) write(ctx context.Context, img Image, geo Geometry, rep *reporter) (*Result, error) {
	e.setPhase(PhaseIdle)
	res := &Result{Fingerprint: Fingerprint(img, geo.FlashSize)}

	var plan *Plan
	mode := ModeFull
	if !e.cfg.forceFull {
		e.setPhase(PhaseChecksumRead)
		var err error
		plan, err = e.Plan(ctx, img, geo)
		if err != nil {
			log.Warnf("checksum read failed, writing full image: %v", err)
		} else {
			e.setPhase(PhaseDecide)
			mode = plan.Preferred()
			res.Pages = len(plan.Pages)
			res.Changed = len(plan.Changed)
			log.Infof("%d of %d pages changed, %s write preferred", res.Changed, res.Pages, mode)
		}
	}

	res.Mode = mode
	err := e.run(ctx, mode, img, geo, plan, rep, res)
	if err != nil && plan != nil {
		log.Warnf("%s write failed, falling back to %s write: %v", mode, mode.other(), err)
		e.setPhase(PhaseFallbackWrite)
		res.Mode = mode.other()
		fbErr := e.run(ctx, mode.other(), img, geo, plan, rep, res)
		if fbErr != nil {
			e.setPhase(PhaseFailed)
			return res, &FlashError{Mode: mode, Err: err, FallbackErr: fbErr}
		}
		res.FallbackFrom = err
	} else if err != nil {
		e.setPhase(PhaseFailed)
		return res, &FlashError{Mode: mode, Err: err}
	}

	e.resetAfterWrite(ctx)
	e.setPhase(PhaseDone)
	return res, nil
}

// writeFull is the path taken for targets that did not reset in time: no
// checksums, no fallback.
func (e *Engine) writeFull(ctx context.Context, img Image, geo Geometry, rep *reporter) (*Result, error) {
	res := &Result{Mode: ModeFull, Fingerprint: Fingerprint(img, geo.FlashSize)}
	e.setPhase(PhaseFullWrite)
	if err := e.fullWrite(ctx, img, geo, rep); err != nil {
		e.setPhase(PhaseFailed)
		return res, &FlashError{Mode: ModeFull, Err: err}
	}
	e.resetAfterWrite(ctx)
	e.setPhase(PhaseDone)
	return res, nil
}

func (e *Engine) run(ctx context.Context, mode Mode, img Image, geo Geometry, plan *Plan, rep *reporter, res *Result) error {
	if mode == ModeFull {
		if e.phase != PhaseFallbackWrite {
			e.setPhase(PhaseFullWrite)
		}
		return e.fullWrite(ctx, img, geo, rep)
	}
	if e.phase != PhaseFallbackWrite {
		e.setPhase(PhasePartialWrite)
	}
	n, err := e.partialWrite(ctx, plan, rep)
	res.Written = n
	return err
}

func (e *Engine) resetAfterWrite(ctx context.Context) {
	e.setPhase(PhaseReset)
	if err := e.target.Reset(ctx, false); err != nil {
		log.Warnf("reset after flash failed: %v", err)
	}
}

// fullWrite hands the whole image to the full flasher.
func (e *Engine) fullWrite(ctx context.Context, img Image, geo Geometry, rep *reporter) error {
	if e.full == nil {
		return errors.New("no full flash method available")
	}
	hex, err := ToHex(img, geo.FlashSize)
	if err != nil {
		return err
	}
	return e.full.FlashHex(ctx, hex, func(f float64) {
		rep.report(f, false)
	})
}

// partialWrite programs the changed code region pages of plan through the
// flash page routine and returns the number of pages written. The next page
// is uploaded to the other RAM slot while the current one is programmed.
func (e *Engine) partialWrite(ctx context.Context, plan *Plan, rep *reporter) (int, error) {
	if len(plan.Config) > 0 {
		log.Debugf("%d configuration pages left to full writes", len(plan.Config))
	}
	pages := plan.Changed
	total := len(pages)
	if total == 0 {
		rep.report(1, true)
		return 0, nil
	}

	pageSize := plan.PageSize
	if err := e.target.WriteMemory(ctx, slotAddr(0, pageSize), pages[0].Data); err != nil {
		return 0, errors.Wrap(err, "upload first page")
	}

	for i, page := range pages {
		err := e.target.ExecuteAt(ctx, LoadAddr, flashPageStub, StackAddr, LoadAddr+5, LoadAddr+1,
			page.Address, slotAddr(i, pageSize), pageSize>>2)
		if err != nil {
			return i, errors.Wrapf(err, "start page %d at %#08x", page.Index, page.Address)
		}

		var upload chan error
		if i+1 < total {
			upload = make(chan error, 1)
			go func(next Page, slot uint32) {
				upload <- e.target.WriteMemory(ctx, slot, next.Data)
			}(pages[i+1], slotAddr(i+1, pageSize))
		}

		haltErr := e.target.WaitForHalt(ctx, e.cfg.pageTimeout)
		var uploadErr error
		if upload != nil {
			uploadErr = <-upload
		}
		if haltErr != nil {
			return i, errors.Wrapf(haltErr, "program page %d at %#08x", page.Index, page.Address)
		}
		if uploadErr != nil {
			return i + 1, errors.Wrapf(uploadErr, "upload page %d", pages[i+1].Index)
		}
		rep.report(float64(i+1)/float64(total), true)
	}
	rep.report(1, true)
	return total, nil
}
