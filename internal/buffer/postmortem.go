package buffer

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// postmortemMagic identifies a TSP buffer postmortem dump file.
var postmortemMagic = [4]byte{'T', 'S', 'P', '1'}

// DumpPostmortem xz-compresses the live ring (slot bytes, plus each
// slot's input timestamp and labels) to w for offline inspection. This
// is a diagnostic aid, not part of the core's normal data path; no code
// in this module calls it, and the supervisor's teardown does not
// invoke it.
func (b *Buffer) DumpPostmortem(w io.Writer) error {
	xw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("buffer: creating xz writer: %w", err)
	}
	defer xw.Close()

	if _, err := xw.Write(postmortemMagic[:]); err != nil {
		return fmt.Errorf("buffer: writing dump header: %w", err)
	}
	if err := binary.Write(xw, binary.LittleEndian, int64(b.n)); err != nil {
		return fmt.Errorf("buffer: writing slot count: %w", err)
	}
	if _, err := xw.Write(b.slots); err != nil {
		return fmt.Errorf("buffer: writing slot bytes: %w", err)
	}
	for i := range b.meta {
		m := b.meta[i]
		if err := binary.Write(xw, binary.LittleEndian, m.InputTimestamp); err != nil {
			return fmt.Errorf("buffer: writing metadata %d: %w", i, err)
		}
		if err := binary.Write(xw, binary.LittleEndian, uint32(m.Labels)); err != nil {
			return fmt.Errorf("buffer: writing metadata %d: %w", i, err)
		}
	}
	return nil
}
