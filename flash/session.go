package flash

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mame82/dapflash/link"
)

// Device is a connected target as provided by link.Link.
type Device interface {
	Target
	FullFlasher
	Connect(ctx context.Context) error
	Session() *link.Session
}

// Session sequences one flash: connect, reset into halt, checksum, diff,
// write and reset, all under an overall timeout.
type Session struct {
	dev    Device
	engine *Engine
	cfg    config
}

func NewSession(dev Device, opts ...Option) *Session {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Session{
		dev:    dev,
		engine: NewEngine(dev, dev, opts...),
		cfg:    cfg,
	}
}

func (s *Session) Engine() *Engine {
	return s.engine
}

// Geometry derives the flash layout from the connected device. The code
// region is bounded by the board's flash size when the board is known.
func (s *Session) Geometry() (Geometry, error) {
	sess := s.dev.Session()
	if sess == nil {
		return Geometry{}, link.ErrNotConnected
	}
	geo := Geometry{
		PageSize:  sess.PageSize,
		PageCount: sess.PageCount,
		FlashSize: sess.FlashSize(),
	}
	if geo.PageSize == 0 || geo.PageSize&(geo.PageSize-1) != 0 {
		return geo, errors.Errorf("implausible page size %d", geo.PageSize)
	}
	b, err := s.cfg.lookup(sess.Identity.BoardID)
	if err != nil {
		log.Warnf("%v, using flash size reported by the target", err)
	} else {
		log.Infof("board: %s", b)
		geo.FlashSize = b.FlashSize
	}
	return geo, nil
}

// resetHalted races a halting reset against the reset timeout. timedOut is
// set if the target did not answer in time.
func (s *Session) resetHalted(ctx context.Context) (timedOut bool, err error) {
	resetCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.dev.Reset(resetCtx, true)
	}()

	timer := time.NewTimer(s.cfg.resetTimeout)
	defer timer.Stop()
	select {
	case err = <-done:
		return false, err
	case <-timer.C:
		return true, &link.TimeoutError{Op: "reset before flash", After: s.cfg.resetTimeout}
	}
}

// Flash writes img to the device. Progress ends with exactly one Done call
// no matter how the attempt ends.
func (s *Session) Flash(ctx context.Context, img Image) (res *Result, err error) {
	rep := newReporter(s.cfg.progress)
	defer func() { rep.finish(res.Partial()) }()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.flashTimeout)
	defer cancel()

	if err = s.dev.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	geo, err := s.Geometry()
	if err != nil {
		return nil, err
	}
	rep.report(0, false)

	timedOut, err := s.resetHalted(ctx)
	if timedOut {
		log.Warnf("%v, target unhealthy, writing full image", err)
		return s.engine.writeFull(ctx, img, geo, rep)
	}
	if err != nil {
		return nil, errors.Wrap(err, "reset before flash")
	}
	return s.engine.write(ctx, img, geo, rep)
}
