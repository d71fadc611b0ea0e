package flash

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"

	"github.com/mame82/dapflash/dap"
	"github.com/mame82/dapflash/dap/daptest"
	"github.com/mame82/dapflash/link"
)

var _ Device = (*link.Link)(nil)

const (
	testPageSize  = 1024
	testPageCount = 64
)

// target emulates the two code stubs on top of the simulated probe.
type target struct {
	probe        *daptest.Probe
	flashed      []uint32
	checksumRuns int
	hang         bool
}

func newTarget() *target {
	tg := &target{probe: daptest.New(testPageSize, testPageCount)}
	tg.probe.Run = tg.run
	return tg
}

func (tg *target) run(p *daptest.Probe) bool {
	mem := p.Mem()
	switch mem[LoadAddr] {
	case checksumStub[0]:
		tg.checksumRuns++
		out, base, size, n := p.Regs[0], p.Regs[1], p.Regs[2], p.Regs[3]
		for i := uint32(0); i < n; i++ {
			page := make([]byte, size)
			for off := uint32(0); off < size; off += 4 {
				binary.LittleEndian.PutUint32(page[off:], mem[base+i*size+off])
			}
			c := PageChecksum(page)
			mem[out+8*i] = c[0]
			mem[out+8*i+4] = c[1]
		}
	case flashPageStub[0]:
		if tg.hang {
			return false
		}
		dst, src, words := p.Regs[0], p.Regs[1], p.Regs[2]
		tg.flashed = append(tg.flashed, dst)
		for i := uint32(0); i < words; i++ {
			mem[dst+4*i] = mem[src+4*i]
		}
	}
	return true
}

type progressLog []Progress

func (l progressLog) dones() int {
	n := 0
	for _, p := range l {
		if p.Done {
			n++
		}
	}
	return n
}

func (l progressLog) last() Progress {
	if len(l) == 0 {
		return Progress{}
	}
	return l[len(l)-1]
}

func newTestSession(t *testing.T, tg *target, opts ...Option) (*Session, *progressLog) {
	t.Helper()
	l := link.New(tg.probe,
		link.WithPollInterval(time.Millisecond),
		link.WithHaltTimeout(time.Second),
		link.WithPortOptions(dap.WithWaitRetryDelay(time.Millisecond)),
	)
	log := &progressLog{}
	opts = append([]Option{
		WithProgress(func(p Progress) { *log = append(*log, p) }),
		WithPageTimeout(50 * time.Millisecond),
	}, opts...)
	return NewSession(l, opts...), log
}

func imageOf(pages int, seed byte) *BinaryImage {
	data := make([]byte, pages*testPageSize)
	for i := range data {
		data[i] = seed + byte(i/testPageSize) + byte(i%251)
	}
	return &BinaryImage{Data: data}
}

func checkFinalProgress(t *testing.T, log *progressLog, partial bool) {
	t.Helper()
	if log.dones() != 1 {
		t.Errorf("%d Done calls, want 1", log.dones())
	}
	if last := log.last(); !last.Done || last.Partial != partial {
		t.Errorf("last progress = %+v, want Done with Partial=%v", last, partial)
	}
	prev := 0.0
	for _, p := range *log {
		if p.Fraction < prev {
			t.Errorf("progress went back from %v to %v", prev, p.Fraction)
		}
		prev = p.Fraction
	}
}

func TestFlashSinglePageChanged(t *testing.T) {
	tg := newTarget()
	img := imageOf(3, 0x10)
	tg.probe.Load(0, img.Data)
	tg.probe.Load(testPageSize, bytes.Repeat([]byte{0x55}, testPageSize))

	s, log := newTestSession(t, tg)
	res, err := s.Flash(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}

	if res.Mode != ModePartial || res.Changed != 1 || res.Written != 1 || res.Pages != 3 {
		t.Errorf("result = %+v", res)
	}
	if len(tg.flashed) != 1 || tg.flashed[0] != testPageSize {
		t.Errorf("flashed pages %#x", tg.flashed)
	}
	if !bytes.Equal(tg.probe.Dump(0, len(img.Data)), img.Data) {
		t.Errorf("target flash differs from image")
	}
	checkFinalProgress(t, log, true)
}

func TestFlashNothingChanged(t *testing.T) {
	tg := newTarget()
	img := imageOf(4, 0x20)
	tg.probe.Load(0, img.Data)

	s, log := newTestSession(t, tg)
	res, err := s.Flash(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModePartial || res.Changed != 0 || len(tg.flashed) != 0 {
		t.Errorf("result = %+v, flashed %d pages", res, len(tg.flashed))
	}
	if tg.checksumRuns != 1 {
		t.Errorf("%d checksum runs", tg.checksumRuns)
	}
	checkFinalProgress(t, log, true)
}

func TestFlashAllChangedGoesFull(t *testing.T) {
	tg := newTarget()
	img := imageOf(3, 0x30)

	s, log := newTestSession(t, tg)
	res, err := s.Flash(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeFull || res.Changed != 3 {
		t.Errorf("result = %+v", res)
	}
	if len(tg.flashed) != 0 {
		t.Errorf("partial write ran for %d pages", len(tg.flashed))
	}

	mem := gohex.NewMemory()
	if err = mem.ParseIntelHex(bytes.NewReader(tg.probe.FlashStream)); err != nil {
		t.Fatalf("streamed HEX: %v", err)
	}
	if !bytes.Equal(mem.ToBinary(0, uint32(len(img.Data)), 0xff), img.Data) {
		t.Errorf("streamed HEX differs from image")
	}
	checkFinalProgress(t, log, false)
}

func TestFlashFullFailsFallsBackToPartial(t *testing.T) {
	tg := newTarget()
	tg.probe.FailFlashOpen = 1
	img := imageOf(3, 0x40)

	s, log := newTestSession(t, tg)
	res, err := s.Flash(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModePartial || !res.Partial() || res.FallbackFrom == nil {
		t.Errorf("result = %+v", res)
	}
	if len(tg.flashed) != 3 {
		t.Errorf("flashed %d pages, want 3", len(tg.flashed))
	}
	if !bytes.Equal(tg.probe.Dump(0, len(img.Data)), img.Data) {
		t.Errorf("target flash differs from image")
	}
	checkFinalProgress(t, log, true)
}

func TestFlashPartialFailsFallsBackToFull(t *testing.T) {
	tg := newTarget()
	tg.hang = true
	img := imageOf(4, 0x50)
	tg.probe.Load(0, img.Data)
	tg.probe.Load(0, bytes.Repeat([]byte{0}, testPageSize))

	s, log := newTestSession(t, tg)
	res, err := s.Flash(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeFull || res.FallbackFrom == nil {
		t.Errorf("result = %+v", res)
	}
	var te *link.TimeoutError
	if !errors.As(res.FallbackFrom, &te) {
		t.Errorf("fallback cause = %v, want halt timeout", res.FallbackFrom)
	}
	if len(tg.probe.FlashStream) == 0 {
		t.Errorf("full write not performed")
	}
	checkFinalProgress(t, log, false)
}

func TestFlashBothPathsFail(t *testing.T) {
	tg := newTarget()
	tg.hang = true
	tg.probe.FailFlashOpen = 1
	img := imageOf(4, 0x60)
	tg.probe.Load(0, img.Data)
	tg.probe.Load(0, bytes.Repeat([]byte{0}, testPageSize))

	s, log := newTestSession(t, tg)
	_, err := s.Flash(context.Background(), img)

	var fe *FlashError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FlashError", err)
	}
	if fe.Mode != ModePartial || fe.Err == nil || fe.FallbackErr == nil {
		t.Errorf("flash error = %+v", fe)
	}
	if log.dones() != 1 {
		t.Errorf("%d Done calls", log.dones())
	}
}

func TestFlashSkipsConfigurationPages(t *testing.T) {
	tg := newTarget()
	code := imageOf(4, 0x70)
	tg.probe.Load(0, code.Data)
	tg.probe.Load(2*testPageSize, bytes.Repeat([]byte{0xff}, testPageSize))

	mem := gohex.NewMemory()
	if err := mem.AddBinary(0, code.Data); err != nil {
		t.Fatal(err)
	}
	if err := mem.AddBinary(0x10001014, []byte{0xfe, 0xff, 0xff, 0xff}); err != nil {
		t.Fatal(err)
	}

	s, log := newTestSession(t, tg)
	res, err := s.Flash(context.Background(), NewHexImage(mem))
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModePartial || res.Pages != 4 || res.Changed != 1 || res.Written != 1 {
		t.Errorf("result = %+v", res)
	}
	for _, addr := range tg.flashed {
		if addr >= ConfigBase {
			t.Errorf("configuration page %#x written by partial flash", addr)
		}
	}
	if len(tg.flashed) != 1 || tg.flashed[0] != 2*testPageSize {
		t.Errorf("flashed %#x", tg.flashed)
	}
	checkFinalProgress(t, log, true)
}

func TestFlashResetTimeoutGoesFull(t *testing.T) {
	tg := newTarget()
	tg.probe.BlockReset = true
	img := imageOf(2, 0x80)
	tg.probe.Load(0, img.Data)

	s, log := newTestSession(t, tg, WithResetTimeout(50*time.Millisecond))
	res, err := s.Flash(context.Background(), img)
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeFull {
		t.Errorf("mode = %s", res.Mode)
	}
	if tg.checksumRuns != 0 {
		t.Errorf("checksums read on a target that did not reset")
	}
	if len(tg.probe.FlashStream) == 0 {
		t.Errorf("full write not performed")
	}
	checkFinalProgress(t, log, false)
}

func TestEngineForceFull(t *testing.T) {
	tg := newTarget()
	img := imageOf(2, 0x90)
	tg.probe.Load(0, img.Data)

	l := link.New(tg.probe, link.WithPollInterval(time.Millisecond))
	if err := l.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(l, l, WithForceFull(true))
	res, err := e.Write(context.Background(), img, Geometry{PageSize: testPageSize, PageCount: testPageCount, FlashSize: testPageSize * testPageCount})
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeFull || tg.checksumRuns != 0 {
		t.Errorf("result = %+v, %d checksum runs", res, tg.checksumRuns)
	}
	if e.Phase() != PhaseDone {
		t.Errorf("phase = %s", e.Phase())
	}
}

func TestReadChecksumsMatchesLocal(t *testing.T) {
	tg := newTarget()
	img := imageOf(testPageCount, 0xa0)
	tg.probe.Load(0, img.Data)

	l := link.New(tg.probe, link.WithPollInterval(time.Millisecond))
	if err := l.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	e := NewEngine(l, l)
	table, err := e.ReadChecksums(context.Background(), Geometry{PageSize: testPageSize, PageCount: testPageCount})
	if err != nil {
		t.Fatal(err)
	}
	if len(table) != testPageCount {
		t.Fatalf("%d checksums", len(table))
	}
	for i, page := range AlignPages(img, testPageSize, 0, 0) {
		if table[i] != PageChecksum(page.Data) {
			t.Errorf("page %d checksum mismatch", i)
		}
	}
}
