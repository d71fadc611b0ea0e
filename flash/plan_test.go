package flash

import (
	"testing"

	"github.com/marcinbor85/gohex"
)

func testPages(n int) []Page {
	img := &BinaryImage{Data: make([]byte, n*1024)}
	for i := range img.Data {
		img.Data[i] = byte(i / 1024)
	}
	return AlignPages(img, 1024, 0, 0)
}

func tableOf(pages []Page) ChecksumTable {
	var t ChecksumTable
	for _, p := range pages {
		t = append(t, PageChecksum(p.Data))
	}
	return t
}

func TestDiffIdentical(t *testing.T) {
	pages := testPages(8)
	plan := Diff(pages, tableOf(pages), 1024)
	if len(plan.Changed) != 0 {
		t.Errorf("%d pages changed", len(plan.Changed))
	}
	if plan.Preferred() != ModePartial {
		t.Errorf("preferred %s", plan.Preferred())
	}
}

func TestDiffAllChanged(t *testing.T) {
	pages := testPages(8)
	table := make(ChecksumTable, 8)
	plan := Diff(pages, table, 1024)
	if len(plan.Changed) != len(pages) {
		t.Errorf("%d of %d pages changed", len(plan.Changed), len(pages))
	}
	if plan.Preferred() != ModeFull {
		t.Errorf("preferred %s", plan.Preferred())
	}
}

func TestDiffKeepsIndex(t *testing.T) {
	pages := testPages(3)
	table := tableOf(pages)
	table[1] = Checksum{}

	plan := Diff(pages, table, 1024)
	if len(plan.Changed) != 1 || plan.Changed[0].Index != 1 || plan.Changed[0].Address != 0x400 {
		t.Fatalf("changed = %+v", plan.Changed)
	}
	for i := range pages {
		if plan.IsChanged(i) != (i == 1) {
			t.Errorf("IsChanged(%d) = %v", i, plan.IsChanged(i))
		}
	}
	if plan.Preferred() != ModePartial {
		t.Errorf("preferred %s", plan.Preferred())
	}
}

func TestDiffBeyondTable(t *testing.T) {
	pages := testPages(4)
	plan := Diff(pages, tableOf(pages[:2]), 1024)
	if len(plan.Changed) != 2 || plan.Changed[0].Index != 2 {
		t.Errorf("changed = %d pages", len(plan.Changed))
	}
	// exactly half is not more than half
	if plan.Preferred() != ModePartial {
		t.Errorf("preferred %s", plan.Preferred())
	}
}

func TestDiffLeavesConfigurationOutOfDecision(t *testing.T) {
	code := make([]byte, 4*1024)
	for i := range code {
		code[i] = byte(i / 1024)
	}
	mem := gohex.NewMemory()
	if err := mem.AddBinary(0, code); err != nil {
		t.Fatal(err)
	}
	if err := mem.AddBinary(0x10001014, []byte{0xfe, 0xff, 0xff, 0xff}); err != nil {
		t.Fatal(err)
	}
	pages := AlignPages(NewHexImage(mem), 1024, 0, 0)
	if len(pages) != 5 {
		t.Fatalf("%d aligned pages, want 4 code and 1 configuration", len(pages))
	}

	table := tableOf(pages[:4])
	table[1] = Checksum{}
	table[2] = Checksum{}
	plan := Diff(pages, table, 1024)

	if len(plan.Pages) != 4 || len(plan.Changed) != 2 {
		t.Errorf("%d of %d pages changed, want 2 of 4", len(plan.Changed), len(plan.Pages))
	}
	if len(plan.Config) != 1 || plan.Config[0].Address != 0x10001000 {
		t.Errorf("configuration pages = %+v", plan.Config)
	}
	for _, p := range plan.Changed {
		if p.Address >= ConfigBase {
			t.Errorf("configuration page %#x counted as changed", p.Address)
		}
	}
	if plan.IsChanged(4) {
		t.Errorf("configuration page flagged as changed")
	}
	// 2 of 4 is not more than half
	if plan.Preferred() != ModePartial {
		t.Errorf("preferred %s", plan.Preferred())
	}
}
