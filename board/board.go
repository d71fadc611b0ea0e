// Package board maps DAPLink board ids to the hardware revision they
// identify.
package board

import (
	"fmt"

	"github.com/pkg/errors"
)

type Revision int

const (
	RevisionUnknown Revision = iota
	RevisionV1
	RevisionV2
)

func (r Revision) String() string {
	switch r {
	case RevisionV1:
		return "V1"
	case RevisionV2:
		return "V2"
	}
	return "unknown"
}

type Board struct {
	ID        uint16
	Revision  Revision
	FlashSize uint32
	PageSize  uint32
}

func (b Board) String() string {
	return fmt.Sprintf("micro:bit %s (%04x), %dKB flash", b.Revision, b.ID, b.FlashSize/1024)
}

var ErrUnknownBoard = errors.New("unknown board id")

var revisions = map[Revision]Board{
	RevisionV1: {Revision: RevisionV1, FlashSize: 256 * 1024, PageSize: 1024},
	RevisionV2: {Revision: RevisionV2, FlashSize: 512 * 1024, PageSize: 4096},
}

var boardRevisions = map[uint16]Revision{
	0x9900: RevisionV1,
	0x9901: RevisionV1,
	0x9903: RevisionV2,
	0x9904: RevisionV2,
	0x9905: RevisionV2,
	0x9906: RevisionV2,
}

// Lookup resolves a board id as found in the probe serial.
func Lookup(id uint16) (Board, error) {
	rev, ok := boardRevisions[id]
	if !ok {
		return Board{ID: id}, errors.Wrapf(ErrUnknownBoard, "%04x", id)
	}
	b := revisions[rev]
	b.ID = id
	return b, nil
}
