package dap

import (
	"context"
	"testing"
	"time"
)

func TestLateResponseIsDropped(t *testing.T) {
	queue := make(chan []byte, 1)
	ctx := context.Background()

	// first request times out, its reply shows up afterwards
	if _, err := awaitResponse(ctx, queue, 10*time.Millisecond); err == nil {
		t.Fatal("response without a reply")
	}
	queue <- []byte{0x00, 0x02, 0x40, 0x00}

	if err := dropStale(queue); err != nil {
		t.Fatal(err)
	}
	queue <- []byte{0x05, 0x01, 0x01}

	rsp, err := awaitResponse(ctx, queue, 10*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if Command(rsp[0]) != DAP_COMMAND_TRANSFER {
		t.Errorf("answered with % x", rsp)
	}
}

func TestDropStaleClosedQueue(t *testing.T) {
	queue := make(chan []byte)
	close(queue)
	if err := dropStale(queue); err == nil {
		t.Error("closed input not reported")
	}
}

func TestDropStaleEmptyQueue(t *testing.T) {
	if err := dropStale(make(chan []byte, 1)); err != nil {
		t.Error(err)
	}
}
