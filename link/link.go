// Package link owns the debug connection to one target: it (re)opens the
// probe transport, discovers the board identity and flash geometry and
// drives the Cortex-M core through its debug registers.
package link

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mame82/dapflash/dap"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

const (
	FICR_CODEPAGESIZE uint32 = 0x10000010
	FICR_CODESIZE     uint32 = 0x10000014
)

// Session holds what is learned about the target on connect. It is never
// mutated; a reconnect replaces it.
type Session struct {
	Identity   Identity
	PageSize   uint32
	PageCount  uint32
	PacketSize int
}

// FlashSize is the size of the code flash as reported by the target.
func (s *Session) FlashSize() uint32 {
	return s.PageSize * s.PageCount
}

// Link serializes every operation on one target. Methods with a Locked
// suffix expect l.mu to be held.
type Link struct {
	t   dap.Transport
	cfg config

	mu           sync.Mutex
	state        State
	port         *dap.Port
	session      *Session
	transportUp  bool
	firstConnect bool
}

func New(t dap.Transport, opts ...Option) *Link {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Link{t: t, cfg: cfg, firstConnect: true}
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Session returns the current session or nil while disconnected.
func (l *Link) Session() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Connect connects if the link is not connected yet.
func (l *Link) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateConnected {
		return nil
	}
	return l.connectLocked(ctx)
}

// Reconnect tears the transport down and builds a fresh session.
func (l *Link) Reconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectLocked(ctx)
}

func (l *Link) connectLocked(ctx context.Context) (err error) {
	l.state = StateConnecting
	l.session = nil
	defer func() {
		if err != nil {
			l.state = StateDisconnected
			l.port = nil
		}
	}()

	if !l.firstConnect && l.transportUp {
		if cErr := l.t.Close(); cErr != nil {
			log.Warnf("closing probe transport before reconnect: %v", cErr)
		}
		l.transportUp = false
	}
	if err = l.t.Open(ctx); err != nil {
		return errors.Wrap(err, "open probe")
	}
	l.firstConnect = false
	l.transportUp = true

	port := dap.NewPort(l.t, l.cfg.portOptions...)
	if err = port.Connect(ctx); err != nil {
		return errors.Wrap(err, "connect debug port")
	}
	l.port = port

	serial, err := port.SerialNumber(ctx)
	if err != nil {
		return errors.Wrap(err, "read probe serial")
	}
	id, err := ParseIdentity(serial)
	if err != nil {
		return err
	}
	pageSize, err := l.readMem32WithRetryLocked(ctx, FICR_CODEPAGESIZE)
	if err != nil {
		return errors.Wrap(err, "read page size")
	}
	pageCount, err := l.readMem32WithRetryLocked(ctx, FICR_CODESIZE)
	if err != nil {
		return errors.Wrap(err, "read page count")
	}

	l.session = &Session{
		Identity:   id,
		PageSize:   pageSize,
		PageCount:  pageCount,
		PacketSize: port.PacketSize(),
	}
	l.state = StateConnected
	log.Infof("connected to %s, %d pages of %d bytes", id, pageCount, pageSize)
	return nil
}

// Disconnect releases the probe. It does nothing if the transport was never
// opened.
func (l *Link) Disconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.transportUp {
		return nil
	}
	if l.port != nil {
		if err := l.port.Disconnect(ctx); err != nil {
			log.Warnf("DAP disconnect: %v", err)
		}
	}
	l.port = nil
	l.session = nil
	l.state = StateDisconnected
	l.transportUp = false
	return errors.Wrap(l.t.Close(), "close probe")
}

func (l *Link) portLocked() (*dap.Port, error) {
	if l.port == nil || l.state == StateDisconnected {
		return nil, ErrNotConnected
	}
	return l.port, nil
}

// ReadMem32WithRetry retries transient transfer failures with a fixed pause
// between attempts. Other errors end it immediately.
func (l *Link) ReadMem32WithRetry(ctx context.Context, addr uint32) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readMem32WithRetryLocked(ctx, addr)
}

func (l *Link) readMem32WithRetryLocked(ctx context.Context, addr uint32) (v uint32, err error) {
	port, err := l.portLocked()
	if err != nil {
		return 0, err
	}
	for attempt := 1; ; attempt++ {
		v, err = port.ReadMem32(ctx, addr)
		if err == nil || !dap.IsTransient(err) || attempt >= l.cfg.readRetries {
			return v, err
		}
		log.Debugf("read %#08x attempt %d: %v", addr, attempt, err)
		select {
		case <-ctx.Done():
			return 0, errors.Wrap(ctx.Err(), "read retry")
		case <-time.After(l.cfg.readRetryWait):
		}
	}
}

func (l *Link) ReadMem32(ctx context.Context, addr uint32) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return 0, err
	}
	return port.ReadMem32(ctx, addr)
}

func (l *Link) WriteMem32(ctx context.Context, addr uint32, value uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}
	return port.WriteMem32(ctx, addr, value)
}

// ReadWords reads count words from addr.
func (l *Link) ReadWords(ctx context.Context, addr uint32, count int) ([]uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return nil, err
	}
	return port.ReadBlock(ctx, addr, count)
}

func (l *Link) WriteWords(ctx context.Context, addr uint32, words []uint32) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}
	return port.WriteBlock(ctx, addr, words)
}

// ReadMemory reads n bytes, n rounded up to whole words.
func (l *Link) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	words, err := l.ReadWords(ctx, addr, (n+3)/4)
	if err != nil {
		return nil, err
	}
	res := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(res[4*i:], w)
	}
	return res[:n], nil
}

// WriteMemory writes data, padding a trailing partial word with zeros.
func (l *Link) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	return l.WriteWords(ctx, addr, toWords(data))
}

func toWords(data []byte) []uint32 {
	words := make([]uint32, (len(data)+3)/4)
	for i := range words {
		var w [4]byte
		copy(w[:], data[4*i:])
		words[i] = binary.LittleEndian.Uint32(w[:])
	}
	return words
}

// FlashHex hands a complete Intel HEX image to the probe's own flash
// programming.
func (l *Link) FlashHex(ctx context.Context, hex []byte, progress func(float64)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	port, err := l.portLocked()
	if err != nil {
		return err
	}
	return port.FlashHex(ctx, hex, progress)
}
