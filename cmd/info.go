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

	"github.com/spf13/cobra"

	"github.com/mame82/dapflash/board"
)

func PrintTargetInfo() error {
	ctx := context.Background()
	l, disconnect, err := connectLink(ctx)
	if err != nil {
		return err
	}
	defer disconnect()

	s := l.Session()
	fmt.Printf("Probe serial:  %s\n", s.Identity.Serial)
	fmt.Printf("Board ID:      %04x\n", s.Identity.BoardID)
	fmt.Printf("Family ID:     %04x\n", s.Identity.FamilyID)
	fmt.Printf("HIC ID:        %08x\n", s.Identity.HIC)
	if b, err := board.Lookup(s.Identity.BoardID); err == nil {
		fmt.Printf("Board:         %s\n", b)
	} else {
		fmt.Printf("Board:         %v\n", err)
	}
	fmt.Printf("Packet size:   %d bytes\n", s.PacketSize)
	fmt.Printf("Flash:         %d pages of %d bytes (%d KB)\n", s.PageCount, s.PageSize, s.FlashSize()/1024)

	halted, err := l.IsHalted(ctx)
	if err == nil {
		fmt.Printf("Core halted:   %v\n", halted)
	}
	return nil
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print probe and target information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return PrintTargetInfo()
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
