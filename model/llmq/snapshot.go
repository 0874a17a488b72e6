package llmq

import "encoding/binary"

// SkipListMode enumerates the four ways a Quorum Snapshot's skip list can be
// interpreted when rebuilding a fresh quarter (spec.md §4.1).
type SkipListMode uint8

const (
	// SkipListNone: no skipping, take the first size/4 of the combined list.
	SkipListNone SkipListMode = 0
	// SkipListSkip: the list enumerates indices to remove before taking the
	// first size/4.
	SkipListSkip SkipListMode = 1
	// SkipListKeep: the list enumerates indices to keep; drop everything
	// else.
	SkipListKeep SkipListMode = 2
	// SkipListAllSkipped: the quarter is empty (degenerate).
	SkipListAllSkipped SkipListMode = 3
)

// QuorumSnapshot is persisted per rotation cycle boundary, keyed by
// (llmqType, cycleAnchorBlockHash) (spec.md §3, §4.1, §6).
type QuorumSnapshot struct {
	Anchor Anchor

	// MemberListLength is the size of the masternode list at Anchor, i.e.
	// the bit-length of UsedMembers.
	MemberListLength int

	// UsedMembers marks which masternodes in the list at Anchor were part
	// of the active rotated set.
	UsedMembers *BitSet

	Mode SkipListMode

	// SkipList holds the delta-encoded indices, per the pinned convention
	// documented in DeltaEncode/DeltaDecode below. Unused (empty) when
	// Mode is SkipListNone or SkipListAllSkipped.
	SkipList []int32
}

// DeltaEncode converts a sorted list of absolute indices into the
// delta-encoding convention named by spec.md §9 ("the source stores
// first_entry_index - i when first_entry_index is non-zero"):
//
//   delta[0]  = abs[0]                          (always absolute)
//   delta[k]  = abs[0] - abs[k]   if abs[0] != 0
//   delta[k]  = abs[k]            if abs[0] == 0
//
// This is pinned by spec.md §8 invariant 2 (snapshot round-trip) and S5;
// implementers MUST NOT "fix" the asymmetric zero case, it is intentional
// per the source behavior referenced in spec.md §9.
func DeltaEncode(absolute []int) []int32 {
	if len(absolute) == 0 {
		return nil
	}
	out := make([]int32, len(absolute))
	first := absolute[0]
	out[0] = int32(first)
	for i := 1; i < len(absolute); i++ {
		if first != 0 {
			out[i] = int32(first - absolute[i])
		} else {
			out[i] = int32(absolute[i])
		}
	}
	return out
}

// DeltaDecode is the exact inverse of DeltaEncode.
func DeltaDecode(delta []int32) []int {
	if len(delta) == 0 {
		return nil
	}
	out := make([]int, len(delta))
	first := int(delta[0])
	out[0] = first
	for i := 1; i < len(delta); i++ {
		if first != 0 {
			out[i] = first - int(delta[i])
		} else {
			out[i] = int(delta[i])
		}
	}
	return out
}

// Encode serializes the snapshot for storage under key
// ("qs", llmqType, cycleAnchorBlockHash) (spec.md §6).
func (s *QuorumSnapshot) Encode() []byte {
	buf := make([]byte, 0, 64+len(s.SkipList)*4)
	buf = append(buf, byte(s.Anchor.Type))
	buf = append(buf, s.Anchor.BlockHash[:]...)
	buf = appendCompactSize(buf, uint64(s.MemberListLength))
	buf = append(buf, s.UsedMembers.Encode()...)
	buf = append(buf, byte(s.Mode))
	buf = appendCompactSize(buf, uint64(len(s.SkipList)))
	for _, d := range s.SkipList {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], uint32(d))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// DecodeQuorumSnapshot is the exact inverse of Encode, satisfying spec.md §8
// invariant 2 ("snapshot round-trip").
func DecodeQuorumSnapshot(data []byte) (*QuorumSnapshot, error) {
	if len(data) < 1+32 {
		return nil, errShortBuffer
	}
	s := &QuorumSnapshot{Anchor: Anchor{Type: Type(data[0])}}
	off := 1
	copy(s.Anchor.BlockHash[:], data[off:off+32])
	off += 32

	listLen, n, err := readCompactSize(data[off:])
	if err != nil {
		return nil, err
	}
	off += n
	s.MemberListLength = int(listLen)

	used, consumed, err := DecodeBitSet(data[off:])
	if err != nil {
		return nil, err
	}
	s.UsedMembers = used
	off += consumed

	if len(data) < off+1 {
		return nil, errShortBuffer
	}
	s.Mode = SkipListMode(data[off])
	off++

	count, n, err := readCompactSize(data[off:])
	if err != nil {
		return nil, err
	}
	off += n
	s.SkipList = make([]int32, count)
	for i := range s.SkipList {
		if len(data) < off+4 {
			return nil, errShortBuffer
		}
		s.SkipList[i] = int32(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
	}
	return s, nil
}

// Equal reports whether two snapshots are byte-for-byte identical, used by
// the spec.md §8 invariant-2 round-trip test.
func (s *QuorumSnapshot) Equal(other *QuorumSnapshot) bool {
	if other == nil {
		return false
	}
	if s.Anchor != other.Anchor || s.MemberListLength != other.MemberListLength || s.Mode != other.Mode {
		return false
	}
	if !s.UsedMembers.Equal(other.UsedMembers) {
		return false
	}
	if len(s.SkipList) != len(other.SkipList) {
		return false
	}
	for i := range s.SkipList {
		if s.SkipList[i] != other.SkipList[i] {
			return false
		}
	}
	return true
}
