package dap

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sstallion/go-hid"
)

// HIDProbe reaches a CMSIS-DAP v1 probe through the operating system HID
// driver instead of libusb, which avoids detaching the kernel driver.
type HIDProbe struct {
	VID        uint16
	PID        uint16
	Serial     string
	ReportSize int

	dev *hid.Device
}

func NewHIDProbe(vid, pid uint16, serial string) *HIDProbe {
	return &HIDProbe{VID: vid, PID: pid, Serial: serial, ReportSize: DefaultPacketSize}
}

func (h *HIDProbe) Open(ctx context.Context) error {
	if err := hid.Init(); err != nil {
		return errors.Wrap(err, "init hidapi")
	}

	var path string
	hid.Enumerate(h.VID, h.PID, func(info *hid.DeviceInfo) error {
		if path == "" && (h.Serial == "" || info.SerialNbr == h.Serial) {
			path = info.Path
		}
		return nil
	})
	if path == "" {
		hid.Exit()
		return eNoProbe
	}

	dev, err := hid.OpenPath(path)
	if err != nil {
		hid.Exit()
		return errors.Wrapf(err, "open %s", path)
	}
	log.Infof("CMSIS-DAP probe found at %s", path)
	h.dev = dev
	return nil
}

func (h *HIDProbe) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if h.dev == nil {
		return nil, eNotOpen
	}
	if len(request) > h.ReportSize {
		return nil, errors.Errorf("request of %d bytes exceeds report size %d", len(request), h.ReportSize)
	}

	// leading report ID 0
	report := make([]byte, h.ReportSize+1)
	copy(report[1:], request)
	if _, err := h.dev.Write(report); err != nil {
		return nil, errors.Wrap(err, "write report")
	}

	timeout := usbResponseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
		if timeout <= 0 {
			return nil, errors.Wrap(context.DeadlineExceeded, "read report")
		}
	}
	rsp := make([]byte, h.ReportSize)
	n, err := h.dev.ReadWithTimeout(rsp, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "read report")
	}
	return rsp[:n], nil
}

func (h *HIDProbe) Close() error {
	if h.dev == nil {
		return nil
	}
	err := h.dev.Close()
	h.dev = nil
	hid.Exit()
	return err
}
