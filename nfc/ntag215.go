package nfc

import (
	"fmt"

	"github.com/clausecker/freefare"
)

// Ntag215Tag provides page-based access to an NTAG215. freefare detects
// NTAG21x as Ultralight tags; the larger memory is addressed the same way,
// four bytes per page.
type Ntag215Tag struct {
	tag freefare.UltralightTag
}

// NewNtag215Tag wraps a freefare Ultralight tag.
func NewNtag215Tag(tag freefare.UltralightTag) *Ntag215Tag {
	return &Ntag215Tag{tag: tag}
}

func (n *Ntag215Tag) UID() string {
	return n.tag.UID()
}

func (n *Ntag215Tag) Type() string {
	return "NTAG215"
}

// ReadPage reads one 4-byte page.
func (n *Ntag215Tag) ReadPage(page byte) ([PageSize]byte, error) {
	if err := n.tag.Connect(); err != nil {
		return [PageSize]byte{}, fmt.Errorf("connect to tag %s: %w", n.tag.UID(), err)
	}
	defer n.tag.Disconnect()

	data, err := n.tag.ReadPage(page)
	if err != nil {
		return [PageSize]byte{}, fmt.Errorf("read page %d: %w", page, err)
	}
	return data, nil
}

// WritePage writes one 4-byte page.
func (n *Ntag215Tag) WritePage(page byte, data [PageSize]byte) error {
	if err := n.tag.Connect(); err != nil {
		return fmt.Errorf("connect to tag %s: %w", n.tag.UID(), err)
	}
	defer n.tag.Disconnect()

	if err := n.tag.WritePage(page, data); err != nil {
		return fmt.Errorf("write page %d: %w", page, err)
	}
	return nil
}

// DumpTag reads the full tag memory, 135 pages, into a 540-byte image
// suitable for the emulator's storage.
func DumpTag(tag Tag) ([]byte, error) {
	image := make([]byte, 0, ImageSize)
	for page := byte(0); page < TotalPages; page++ {
		data, err := tag.ReadPage(page)
		if err != nil {
			return nil, fmt.Errorf("dump tag %s: %w", tag.UID(), err)
		}
		image = append(image, data[:]...)
	}
	return image, nil
}

// RestoreTag writes a 540-byte image back onto a physical tag. Pages 0
// through 2 hold the factory serial and lock bytes and are skipped; only
// special-purpose tags accept writes there anyway.
func RestoreTag(tag Tag, image []byte) error {
	if len(image) != ImageSize {
		return fmt.Errorf("restore tag: image must be %d bytes, got %d", ImageSize, len(image))
	}
	for page := byte(FirstWritablePage); page < TotalPages; page++ {
		var data [PageSize]byte
		copy(data[:], image[int(page)*PageSize:])
		if err := tag.WritePage(page, data); err != nil {
			return fmt.Errorf("restore tag %s: %w", tag.UID(), err)
		}
	}
	return nil
}
