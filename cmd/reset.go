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
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	tmpResetHalt   = false
	tmpResetMethod = "system"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the target, optionally keeping the core halted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		l, disconnect, err := connectLink(ctx)
		if err != nil {
			return err
		}
		defer disconnect()

		switch strings.ToLower(tmpResetMethod) {
		case "system", "sys":
			err = l.Reset(ctx, tmpResetHalt)
		case "hardware", "hw":
			tmpResetHalt = false
			err = l.HardwareReset(ctx)
		case "interface", "daplink":
			tmpResetHalt = false
			err = l.InterfaceReset(ctx)
		default:
			return errors.Errorf("unknown reset method '%s'", tmpResetMethod)
		}
		if err != nil {
			return err
		}
		if tmpResetHalt {
			fmt.Println("Target reset, core halted")
		} else {
			fmt.Println("Target reset")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)
	resetCmd.Flags().BoolVar(&tmpResetHalt, "halt", false, "halt the core at the reset vector (system reset only)")
	resetCmd.Flags().StringVarP(&tmpResetMethod, "method", "m", "system", "reset method: 'system' (AIRCR), 'hardware' (reset line) or 'interface' (DAPLink)")
}
