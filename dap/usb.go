package dap

import (
	"context"
	"time"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	VID_ARM     gousb.ID = 0x0d28
	PID_DAPLINK gousb.ID = 0x0204 // DAPLink CMSIS-DAP v1 (HID)

	usbResponseTimeout = time.Second
)

// USBProbe is a CMSIS-DAP v1 probe accessed through its HID interface with
// libusb. Input reports are collected by a background loop; output reports
// go to the interrupt OUT endpoint, or as SET_REPORT control requests if the
// interface has none.
type USBProbe struct {
	VID    gousb.ID
	PID    gousb.ID
	Serial string

	UsbCtx   *gousb.Context
	Dev      *gousb.Device
	Config   *gousb.Config
	IfaceHID *gousb.Interface
	EpIn     *gousb.InEndpoint
	EpOut    *gousb.OutEndpoint

	reportSize int
	rcvQueue   chan []byte
	cancel     context.CancelFunc
	ctx        context.Context
}

func NewUSBProbe(vid, pid gousb.ID, serial string) *USBProbe {
	return &USBProbe{VID: vid, PID: pid, Serial: serial}
}

func (u *USBProbe) openDevice() (*gousb.Device, error) {
	devs, err := u.UsbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == u.VID && desc.Product == u.PID
	})
	var res *gousb.Device
	for _, dev := range devs {
		if res == nil {
			if sn, snErr := dev.SerialNumber(); u.Serial == "" || (snErr == nil && sn == u.Serial) {
				res = dev
				continue
			}
		}
		dev.Close()
	}
	if res == nil {
		if err != nil {
			return nil, errors.Wrap(err, "enumerate USB devices")
		}
		return nil, eNoProbe
	}
	return res, nil
}

func (u *USBProbe) Open(ctx context.Context) (err error) {
	u.UsbCtx = gousb.NewContext()

	if u.Dev, err = u.openDevice(); err != nil {
		u.Close()
		return err
	}
	log.Infof("CMSIS-DAP probe found %s:%s", u.VID, u.PID)

	u.Config, err = u.Dev.Config(1)
	if err != nil {
		u.Close()
		return errors.Wrap(err, "couldn't retrieve config 1 of probe")
	}
	u.Dev.SetAutoDetach(true)

Outer:
	for _, ifaceDesc := range u.Config.Desc.Interfaces {
		for _, ifaceSettings := range ifaceDesc.AltSettings {
			if ifaceSettings.Class != gousb.ClassHID {
				continue
			}
			for _, epDesc := range ifaceSettings.Endpoints {
				if epDesc.Direction != gousb.EndpointDirectionIn {
					continue
				}
				u.IfaceHID, err = u.Config.Interface(ifaceSettings.Number, ifaceSettings.Alternate)
				if err != nil {
					u.Close()
					return errors.Wrap(err, "couldn't claim CMSIS-DAP HID interface")
				}
				u.EpIn, err = u.IfaceHID.InEndpoint(epDesc.Number)
				if err != nil {
					u.Close()
					return errors.Wrap(err, "couldn't access HID IN endpoint")
				}
				u.reportSize = epDesc.MaxPacketSize
				break Outer
			}
		}
	}
	if u.EpIn == nil {
		u.Close()
		return eNoHIDEndpoint
	}

	for _, epDesc := range u.IfaceHID.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut {
			if u.EpOut, err = u.IfaceHID.OutEndpoint(epDesc.Number); err != nil {
				log.Warnf("HID OUT endpoint unusable, falling back to SET_REPORT: %v", err)
				u.EpOut = nil
			}
			break
		}
	}
	log.Debugf("probe HID interface %s, report size %d", u.IfaceHID, u.reportSize)

	u.rcvQueue = make(chan []byte, 1)
	u.ctx, u.cancel = context.WithCancel(context.Background())
	go u.rcvLoop(u.ctx, u.EpIn, u.rcvQueue)

	return nil
}

func (u *USBProbe) rcvLoop(ctx context.Context, ep *gousb.InEndpoint, queue chan<- []byte) {
	size := u.reportSize
	for {
		buf := make([]byte, size)
		n, err := ep.ReadContext(ctx, buf)
		if err != nil {
			break
		}
		select {
		case queue <- buf[:n]:
		case <-ctx.Done():
		}
	}

	close(queue)
}

func (u *USBProbe) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if u.IfaceHID == nil {
		return nil, eNotOpen
	}
	if len(request) > u.reportSize {
		return nil, errors.Errorf("request of %d bytes exceeds report size %d", len(request), u.reportSize)
	}
	if err := dropStale(u.rcvQueue); err != nil {
		return nil, err
	}
	report := make([]byte, u.reportSize)
	copy(report, request)

	var err error
	if u.EpOut != nil {
		_, err = u.EpOut.WriteContext(ctx, report)
	} else {
		_, err = u.Dev.Control(
			0x21,                              //bit7: Host to device, bit6..5: Class: 0x1, bit4..0: Interface
			0x09,                              //request: 0x09 SET_REPORT
			0x0200,                            //Output report, no report ID
			uint16(u.IfaceHID.Setting.Number), //interface index
			report,
		)
	}
	if err != nil {
		return nil, errors.Wrap(err, "send report")
	}

	return awaitResponse(ctx, u.rcvQueue, usbResponseTimeout)
}

// dropStale discards responses which arrived after their request timed out,
// so the next request is not answered with the previous reply.
func dropStale(queue <-chan []byte) error {
Drain:
	for {
		select {
		case stale, ok := <-queue:
			if !ok {
				return errors.New("probe input closed")
			}
			log.Debugf("dropping stale probe response % x", stale)
		default:
			break Drain
		}
	}
	return nil
}

func awaitResponse(ctx context.Context, queue <-chan []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case rsp, ok := <-queue:
		if !ok {
			return nil, errors.New("probe input closed")
		}
		return rsp, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "waiting for probe response")
	}
}

func (u *USBProbe) Close() error {
	if u.cancel != nil {
		u.cancel()
		u.cancel = nil
	}

	if u.IfaceHID != nil {
		u.IfaceHID.Close()
		u.IfaceHID = nil
	}

	if u.Config != nil {
		u.Config.Close()
		u.Config = nil
	}

	if u.Dev != nil {
		u.Dev.SetAutoDetach(false)
		u.Dev.Close()
		u.Dev = nil
	}

	if u.UsbCtx != nil {
		u.UsbCtx.Close()
		u.UsbCtx = nil
	}
	u.EpIn, u.EpOut = nil, nil
	return nil
}
