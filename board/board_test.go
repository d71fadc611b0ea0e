package board

import (
	"testing"

	"github.com/pkg/errors"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		id        uint16
		rev       Revision
		flashSize uint32
	}{
		{0x9900, RevisionV1, 256 * 1024},
		{0x9901, RevisionV1, 256 * 1024},
		{0x9903, RevisionV2, 512 * 1024},
		{0x9904, RevisionV2, 512 * 1024},
		{0x9905, RevisionV2, 512 * 1024},
		{0x9906, RevisionV2, 512 * 1024},
	}
	for _, tc := range tests {
		b, err := Lookup(tc.id)
		if err != nil {
			t.Errorf("Lookup(%04x): %v", tc.id, err)
			continue
		}
		if b.ID != tc.id || b.Revision != tc.rev || b.FlashSize != tc.flashSize {
			t.Errorf("Lookup(%04x) = %+v", tc.id, b)
		}
	}

	if _, err := Lookup(0x1234); !errors.Is(err, ErrUnknownBoard) {
		t.Errorf("unknown board: %v", err)
	}
}
