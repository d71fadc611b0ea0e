package link

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

const serialLength = 48

// Identity is parsed from the DAPLink serial string: the first four hex
// digits are the board id, the next four the family id and the last eight
// the interface firmware (HIC) id.
type Identity struct {
	Serial   string
	BoardID  uint16
	FamilyID uint16
	HIC      uint32
}

func (i Identity) String() string {
	return fmt.Sprintf("board %04x family %04x hic %08x", i.BoardID, i.FamilyID, i.HIC)
}

func ParseIdentity(serial string) (id Identity, err error) {
	if len(serial) != serialLength {
		return id, errors.Errorf("serial %q: expected %d characters, got %d", serial, serialLength, len(serial))
	}
	id.Serial = serial

	board, err := strconv.ParseUint(serial[0:4], 16, 16)
	if err != nil {
		return id, errors.Wrap(err, "board id")
	}
	family, err := strconv.ParseUint(serial[4:8], 16, 16)
	if err != nil {
		return id, errors.Wrap(err, "family id")
	}
	hic, err := strconv.ParseUint(serial[40:48], 16, 32)
	if err != nil {
		return id, errors.Wrap(err, "hic id")
	}
	id.BoardID = uint16(board)
	id.FamilyID = uint16(family)
	id.HIC = uint32(hic)
	return id, nil
}
