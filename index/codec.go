package index

import (
	"encoding/binary"

	"github.com/sourcegraph/sourcegraph/lib/errors"

	"github.com/opdag/vcscore/objectid"
)

// ErrCorruptSegment is returned by DecodeSegment when a segment file's
// header or record lengths are inconsistent with expectations. The caller
// is expected to delete the index/operations directory and rebuild from
// scratch.
var ErrCorruptSegment = errors.New("index: corrupt segment")

// EncodeSegment serializes s as a little-endian fixed header, per-commit
// records with inline parent positions for up to two parents (more spill
// to a trailing overflow array), then commit-id-sorted and
// change-id-sorted lookup tables. Byte-for-byte stability matters because
// the file is named by the hash of its own bytes.
func EncodeSegment(s *Segment, commitIDLen, changeIDLen int) []byte {
	var overflow []uint32
	recordsLen := len(s.commits)

	var parentName string
	if s.Parent != nil {
		parentName = s.Parent.Name
	}
	nameBytes := []byte(parentName)
	header := make([]byte, 12+len(nameBytes))
	binary.LittleEndian.PutUint32(header[4:], uint32(recordsLen))
	binary.LittleEndian.PutUint32(header[8:], uint32(len(nameBytes)))
	copy(header[12:], nameBytes)

	body := make([]byte, 0, recordsLen*(commitIDLen+changeIDLen+16))
	var u32 [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		body = append(body, u32[:]...)
	}

	for _, c := range s.commits {
		body = append(body, c.commitID...)
		body = append(body, c.changeID...)
		putU32(c.generation)
		putU32(uint32(len(c.parents)))
		switch {
		case len(c.parents) <= 2:
			for _, p := range c.parents {
				putU32(uint32(p))
			}
			for i := len(c.parents); i < 2; i++ {
				putU32(0)
			}
		default:
			putU32(uint32(len(overflow)))
			putU32(0)
			for _, p := range c.parents {
				overflow = append(overflow, uint32(p))
			}
		}
	}
	binary.LittleEndian.PutUint32(header[0:], uint32(len(overflow)))

	for _, o := range overflow {
		putU32(o)
	}
	for _, idx := range s.byCommitID {
		putU32(uint32(s.Base) + uint32(idx))
	}
	for _, idx := range s.byChangeID {
		putU32(uint32(s.Base) + uint32(idx))
	}

	out := make([]byte, 0, len(header)+len(body))
	out = append(out, header...)
	out = append(out, body...)
	return out
}

type overflowRef struct {
	commit       int
	offset, count uint32
}

// DecodeSegment parses bytes written by EncodeSegment, stacking the result
// on top of parent. parent must already have been loaded by the caller,
// typically by first peeking the header's parent-name field (see
// peekParentName in store.go) and loading that segment before calling
// DecodeSegment. The decoded segment's own Name is left empty; the
// caller sets it from the filename the bytes were actually read from,
// since a segment is not aware of its own content hash. Returns
// ErrCorruptSegment on any structural inconsistency.
func DecodeSegment(data []byte, commitIDLen, changeIDLen int, parent *Segment) (*Segment, error) {
	if len(data) < 12 {
		return nil, errors.Wrap(ErrCorruptSegment, "header truncated")
	}
	numOverflow := binary.LittleEndian.Uint32(data[0:4])
	numCommits := binary.LittleEndian.Uint32(data[4:8])
	nameLen := binary.LittleEndian.Uint32(data[8:12])
	off := 12
	if off+int(nameLen) > len(data) {
		return nil, errors.Wrap(ErrCorruptSegment, "parent segment name truncated")
	}
	// parentName (the bytes just read) is informational here: the caller
	// already resolved and passed in `parent` using the same field via
	// peekParentName before decoding the rest of the segment.
	off += int(nameLen)

	s := newSegment(parent)
	s.commits = make([]commitRecord, numCommits)

	var pending []overflowRef
	recordLen := commitIDLen + changeIDLen + 16
	for i := uint32(0); i < numCommits; i++ {
		if off+recordLen > len(data) {
			return nil, errors.Wrap(ErrCorruptSegment, "commit record truncated")
		}
		commitID := append(objectid.ID(nil), data[off:off+commitIDLen]...)
		off += commitIDLen
		changeID := append(objectid.ID(nil), data[off:off+changeIDLen]...)
		off += changeIDLen
		generation := binary.LittleEndian.Uint32(data[off:])
		off += 4
		numParents := binary.LittleEndian.Uint32(data[off:])
		off += 4
		p0 := binary.LittleEndian.Uint32(data[off:])
		off += 4
		p1 := binary.LittleEndian.Uint32(data[off:])
		off += 4

		var parents []Position
		switch {
		case numParents == 0:
		case numParents == 1:
			parents = []Position{Position(p0)}
		case numParents == 2:
			parents = []Position{Position(p0), Position(p1)}
		default:
			if p0+numParents > numOverflow {
				return nil, errors.Wrap(ErrCorruptSegment, "parent overflow range out of bounds")
			}
			pending = append(pending, overflowRef{commit: int(i), offset: p0, count: numParents})
		}
		s.commits[i] = commitRecord{commitID: commitID, changeID: changeID, generation: generation, parents: parents}
	}

	overflowBytes := int(numOverflow) * 4
	if off+overflowBytes > len(data) {
		return nil, errors.Wrap(ErrCorruptSegment, "overflow table truncated")
	}
	overflow := make([]uint32, numOverflow)
	for i := range overflow {
		overflow[i] = binary.LittleEndian.Uint32(data[off+i*4:])
	}
	off += overflowBytes

	for _, ref := range pending {
		parents := make([]Position, ref.count)
		for i := uint32(0); i < ref.count; i++ {
			parents[i] = Position(overflow[ref.offset+i])
		}
		s.commits[ref.commit].parents = parents
	}

	tableBytes := int(numCommits) * 4
	if off+tableBytes > len(data) {
		return nil, errors.Wrap(ErrCorruptSegment, "commit-id lookup table truncated")
	}
	s.byCommitID = make([]int, numCommits)
	for i := range s.byCommitID {
		s.byCommitID[i] = int(binary.LittleEndian.Uint32(data[off+i*4:])) - int(s.Base)
	}
	off += tableBytes

	if off+tableBytes > len(data) {
		return nil, errors.Wrap(ErrCorruptSegment, "change-id lookup table truncated")
	}
	s.byChangeID = make([]int, numCommits)
	for i := range s.byChangeID {
		s.byChangeID[i] = int(binary.LittleEndian.Uint32(data[off+i*4:])) - int(s.Base)
	}

	return s, nil
}
