package flash

import "github.com/boljen/go-bitmap"

type Mode int

const (
	ModePartial Mode = iota
	ModeFull
)

func (m Mode) String() string {
	if m == ModeFull {
		return "full"
	}
	return "partial"
}

func (m Mode) other() Mode {
	if m == ModeFull {
		return ModePartial
	}
	return ModeFull
}

// Plan is the outcome of comparing the desired pages against the checksums
// read from the target. Pages and Changed cover the code region only;
// configuration region pages are kept in Config and are never part of the
// mode decision.
type Plan struct {
	PageSize uint32
	Pages    []Page
	Changed  []Page
	Config   []Page

	changed bitmap.Bitmap
	size    int
}

// Diff keeps the code region pages whose checksum differs from the table
// entry at Address/pageSize, or that lie beyond the table.
func Diff(pages []Page, table ChecksumTable, pageSize uint32) *Plan {
	p := &Plan{
		PageSize: pageSize,
		changed:  bitmap.New(len(pages)),
		size:     len(pages),
	}
	for _, page := range pages {
		if page.Address >= ConfigBase {
			p.Config = append(p.Config, page)
			continue
		}
		p.Pages = append(p.Pages, page)
		idx := int64(page.Address / pageSize)
		if idx < int64(len(table)) && PageChecksum(page.Data) == table[idx] {
			continue
		}
		p.Changed = append(p.Changed, page)
		p.changed.Set(page.Index, true)
	}
	return p
}

func (p *Plan) IsChanged(index int) bool {
	if index < 0 || index >= p.size {
		return false
	}
	return p.changed.Get(index)
}

// Preferred picks a full write once more than half of the pages changed.
func (p *Plan) Preferred() Mode {
	if 2*len(p.Changed) > len(p.Pages) {
		return ModeFull
	}
	return ModePartial
}
