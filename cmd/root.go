// Copyright © 2019 Marcus Mengs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/gousb"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mame82/dapflash/dap"
	"github.com/mame82/dapflash/link"
)

var (
	tmpVID        uint16
	tmpPID        uint16
	tmpSerial     = ""
	tmpBackend    = "usb"
	tmpVerbose    = false
	tmpShowInOut  = false
	tmpClock      uint32
	tmpReportSize int
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dapflash",
	Short: "Flash micro:bit class boards through their DAPLink interface",
	Long: `dapflash talks CMSIS-DAP to the interface chip of a micro:bit class board.

Images are written either as a whole, using the DAPLink flash commands, or
partially: page checksums are computed on the target and only pages which
differ from the image get reprogrammed.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case tmpShowInOut:
			log.SetLevel(log.DebugLevel)
		case tmpVerbose:
			log.SetLevel(log.InfoLevel)
		default:
			log.SetLevel(log.WarnLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.Uint16Var(&tmpVID, "vid", uint16(dap.VID_ARM), "USB vendor ID of the probe")
	pf.Uint16Var(&tmpPID, "pid", uint16(dap.PID_DAPLINK), "USB product ID of the probe")
	pf.StringVarP(&tmpSerial, "serial", "s", "", "serial number of the probe to use, if more than one is connected")
	pf.StringVarP(&tmpBackend, "backend", "b", "usb", "probe access: 'usb' (libusb) or 'hidapi'")
	pf.Uint32Var(&tmpClock, "clock", dap.DefaultClock, "SWD clock in Hz")
	pf.IntVar(&tmpReportSize, "report-size", dap.DefaultPacketSize, "HID report size (hidapi backend)")
	pf.BoolVarP(&tmpVerbose, "verbose", "v", false, "log progress of the debug link")
	pf.BoolVar(&tmpShowInOut, "trace", false, "print every CMSIS-DAP packet exchanged with the probe")
}

func newTransport() (dap.Transport, error) {
	switch strings.ToLower(tmpBackend) {
	case "usb", "libusb":
		return dap.NewUSBProbe(gousb.ID(tmpVID), gousb.ID(tmpPID), tmpSerial), nil
	case "hid", "hidapi":
		p := dap.NewHIDProbe(tmpVID, tmpPID, tmpSerial)
		p.ReportSize = tmpReportSize
		return p, nil
	}
	return nil, errors.Errorf("unknown backend '%s'", tmpBackend)
}

func newLink() (*link.Link, error) {
	t, err := newTransport()
	if err != nil {
		return nil, err
	}
	return link.New(t, link.WithPortOptions(
		dap.WithClock(tmpClock),
		dap.WithShowInOut(tmpShowInOut),
	)), nil
}

// connectLink opens the probe and connects to the target. The returned
// function disconnects again.
func connectLink(ctx context.Context) (*link.Link, func(), error) {
	l, err := newLink()
	if err != nil {
		return nil, nil, err
	}
	if err = l.Connect(ctx); err != nil {
		l.Disconnect(ctx)
		return nil, nil, errors.Wrap(err, "can not connect to target")
	}
	return l, func() {
		if err := l.Disconnect(context.Background()); err != nil {
			log.Warnf("disconnect: %v", err)
		}
	}, nil
}
