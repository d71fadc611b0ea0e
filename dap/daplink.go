package dap

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FlashHex programs a complete Intel HEX image through the DAPLink vendor
// flash commands. progress receives the fraction of bytes sent so far.
func (p *Port) FlashHex(ctx context.Context, hex []byte, progress func(float64)) (err error) {
	if len(hex) == 0 {
		return errors.New("empty flash image")
	}

	if err = p.statusCommand(ctx, DAPLINK_COMMAND_FLASH_OPEN); err != nil {
		return errors.Wrap(err, "open DAPLink flash stream")
	}
	defer func() {
		if cErr := p.statusCommand(ctx, DAPLINK_COMMAND_FLASH_CLOSE); cErr != nil && err == nil {
			err = errors.Wrap(cErr, "close DAPLink flash stream")
		}
	}()

	chunk := p.packetSize - 2
	for off := 0; off < len(hex); off += chunk {
		end := off + chunk
		if end > len(hex) {
			end = len(hex)
		}
		data := make([]byte, 1+end-off)
		data[0] = byte(end - off)
		copy(data[1:], hex[off:end])

		if err = p.statusCommand(ctx, DAPLINK_COMMAND_FLASH_WRITE, data...); err != nil {
			return errors.Wrapf(err, "DAPLink flash write at offset %d", off)
		}
		if progress != nil {
			progress(float64(end) / float64(len(hex)))
		}
	}
	log.Debugf("DAPLink flash stream of %d bytes written", len(hex))
	return nil
}

// FlashReset resets the target through the DAPLink interface firmware.
func (p *Port) FlashReset(ctx context.Context) error {
	return p.statusCommand(ctx, DAPLINK_COMMAND_FLASH_RESET)
}
