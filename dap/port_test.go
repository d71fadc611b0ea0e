package dap_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/mame82/dapflash/dap"
	"github.com/mame82/dapflash/dap/daptest"
)

func connectedPort(t *testing.T, probe *daptest.Probe) *dap.Port {
	t.Helper()
	ctx := context.Background()
	if err := probe.Open(ctx); err != nil {
		t.Fatal(err)
	}
	port := dap.NewPort(probe, dap.WithWaitRetryDelay(time.Millisecond))
	if err := port.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return port
}

func TestConnectReadsPacketSize(t *testing.T) {
	probe := daptest.New(1024, 4)
	probe.PacketSize = 512
	port := connectedPort(t, probe)

	if port.PacketSize() != 512 {
		t.Errorf("PacketSize = %d, want 512", port.PacketSize())
	}
	if port.MaxWriteBurst() != 126 {
		t.Errorf("MaxWriteBurst = %d, want 126", port.MaxWriteBurst())
	}
}

func TestSerialNumber(t *testing.T) {
	probe := daptest.New(1024, 4)
	port := connectedPort(t, probe)

	sn, err := port.SerialNumber(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sn != daptest.DefaultSerial {
		t.Errorf("serial = %q", sn)
	}
}

func TestWriteRegisterBurstRetriesWait(t *testing.T) {
	for _, waits := range []int{0, 1, 5, 40} {
		probe := daptest.New(1024, 4)
		port := connectedPort(t, probe)
		probe.WaitAcks = waits

		if err := port.WriteMem32(context.Background(), 0x20000000, 0xdeadbeef); err != nil {
			t.Fatalf("%d WAITs: %v", waits, err)
		}
		if probe.WaitAcks != 0 {
			t.Errorf("%d WAITs: %d left unconsumed", waits, probe.WaitAcks)
		}
		if got := probe.Read32(0x20000000); got != 0xdeadbeef {
			t.Errorf("%d WAITs: memory = %#x", waits, got)
		}
	}
}

func TestWriteRegisterBurstHonoursContext(t *testing.T) {
	probe := daptest.New(1024, 4)
	port := connectedPort(t, probe)
	probe.WaitAcks = 1 << 30

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := port.WriteRegister(ctx, dap.DP_SELECT, 0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestReadFaultIsTransient(t *testing.T) {
	probe := daptest.New(1024, 4)
	port := connectedPort(t, probe)
	probe.FaultReads = 1

	_, err := port.ReadMem32(context.Background(), daptest.FICR_CODEPAGESIZE)
	if err == nil {
		t.Fatal("expected error")
	}
	if !dap.IsTransient(err) {
		t.Errorf("IsTransient(%v) = false", err)
	}
	if !errors.Is(err, dap.ErrProtocol) {
		t.Errorf("transfer error should match ErrProtocol")
	}

	v, err := port.ReadMem32(context.Background(), daptest.FICR_CODEPAGESIZE)
	if err != nil || v != 1024 {
		t.Errorf("second read = %d, %v", v, err)
	}
}

type scriptedTransport struct {
	rsp []byte
}

func (s *scriptedTransport) Open(context.Context) error { return nil }
func (s *scriptedTransport) Close() error               { return nil }
func (s *scriptedTransport) Exchange(context.Context, []byte) ([]byte, error) {
	return s.rsp, nil
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name      string
		rsp       []byte
		transient bool
	}{
		{"wrong opcode", []byte{0x06, 1, 1, 0, 0, 0, 0}, false},
		{"short", []byte{0x05, 1}, false},
		{"count mismatch", []byte{0x05, 0, 1}, true},
		{"fault", []byte{0x05, 1, 4, 0, 0, 0, 0}, true},
		{"missing data", []byte{0x05, 1, 1, 0}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			port := dap.NewPort(&scriptedTransport{rsp: tc.rsp})
			_, err := port.ReadRegister(context.Background(), dap.DP_IDCODE)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, dap.ErrProtocol) {
				t.Errorf("%v does not match ErrProtocol", err)
			}
			if dap.IsTransient(err) != tc.transient {
				t.Errorf("IsTransient = %v, want %v", !tc.transient, tc.transient)
			}
		})
	}
}

func TestBlockAcrossAutoIncrementBoundary(t *testing.T) {
	probe := daptest.New(1024, 4)
	port := connectedPort(t, probe)
	ctx := context.Background()

	// starts 8 words before a 1KB boundary and spans 3 windows
	addr := uint32(0x200003e0)
	words := make([]uint32, 600)
	for i := range words {
		words[i] = uint32(i) * 0x01010101
	}
	if err := port.WriteBlock(ctx, addr, words); err != nil {
		t.Fatal(err)
	}
	for i, w := range words {
		if got := probe.Read32(addr + uint32(4*i)); got != w {
			t.Fatalf("word %d = %#x, want %#x", i, got, w)
		}
	}

	back, err := port.ReadBlock(ctx, addr, len(words))
	if err != nil {
		t.Fatal(err)
	}
	for i := range words {
		if back[i] != words[i] {
			t.Fatalf("read back word %d = %#x, want %#x", i, back[i], words[i])
		}
	}
}

func TestReadBurstBounds(t *testing.T) {
	probe := daptest.New(1024, 4)
	port := connectedPort(t, probe)

	if _, err := port.ReadRegisterBurst(context.Background(), dap.AP_DRW, dap.MaxReadBurst+1); err == nil {
		t.Error("burst above limit accepted")
	}
	if _, err := port.ReadRegisterBurst(context.Background(), dap.AP_DRW, 0); err == nil {
		t.Error("empty burst accepted")
	}
}

func TestFlashHexStreamsChunks(t *testing.T) {
	probe := daptest.New(1024, 4)
	port := connectedPort(t, probe)

	hex := make([]byte, 200)
	for i := range hex {
		hex[i] = byte('0' + i%10)
	}
	var last float64
	calls := 0
	err := port.FlashHex(context.Background(), hex, func(f float64) {
		calls++
		last = f
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(probe.FlashStream) != string(hex) {
		t.Errorf("stream mismatch: %d bytes", len(probe.FlashStream))
	}
	// 62 byte chunks
	if calls != 4 || last != 1 {
		t.Errorf("progress calls = %d, last = %v", calls, last)
	}
}

func TestFlashHexOpenFailure(t *testing.T) {
	probe := daptest.New(1024, 4)
	port := connectedPort(t, probe)
	probe.FailFlashOpen = 1

	err := port.FlashHex(context.Background(), []byte(":00000001FF\n"), nil)
	if !errors.Is(err, dap.ErrProtocol) {
		t.Fatalf("err = %v", err)
	}
}

func TestRegisterRequest(t *testing.T) {
	tests := []struct {
		reg  dap.Register
		read bool
		want byte
	}{
		{dap.DP_IDCODE, true, 0x02},
		{dap.DP_SELECT, false, 0x08},
		{dap.AP_CSW, false, 0x01},
		{dap.AP_TAR, false, 0x05},
		{dap.AP_DRW, true, 0x0f},
	}
	for _, tc := range tests {
		if got := tc.reg.Request(tc.read); got != tc.want {
			t.Errorf("Register(%d).Request(%v) = %#x, want %#x", tc.reg, tc.read, got, tc.want)
		}
	}
}
