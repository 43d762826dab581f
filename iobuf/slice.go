package iobuf

import "bytes"

// Slice is a borrowed view into a Buffer's backing array: no copy, no
// ownership, valid only until the next ConfirmRead/ConfirmWrite/Compact
// on the Buffer that produced it.
type Slice []byte

// Empty reports whether the slice has no bytes.
func (s Slice) Empty() bool { return len(s) == 0 }

func (s Slice) StartsWith(prefix []byte) bool { return bytes.HasPrefix(s, prefix) }
func (s Slice) EndsWith(suffix []byte) bool   { return bytes.HasSuffix(s, suffix) }

// Trim removes leading and trailing bytes found in cutset.
func (s Slice) Trim(cutset string) Slice { return Slice(bytes.Trim(s, cutset)) }

// TrimSpace removes leading and trailing ASCII whitespace.
func (s Slice) TrimSpace() Slice { return Slice(bytes.TrimSpace(s)) }

// Search returns the index of the first occurrence of b, or -1.
func (s Slice) Search(b byte) int { return bytes.IndexByte(s, b) }

// SplitAt splits the slice at the first occurrence of b, excluding it
// from both halves. found is false if b does not occur, in which case
// head is the whole slice and tail is nil.
func (s Slice) SplitAt(b byte) (head, tail Slice, found bool) {
	idx := bytes.IndexByte(s, b)
	if idx < 0 {
		return s, nil, false
	}
	return s[:idx], s[idx+1:], true
}

// Fields splits the slice around runs of ASCII space, like bytes.Fields.
func (s Slice) Fields() []Slice {
	parts := bytes.Fields(s)
	out := make([]Slice, len(parts))
	for i, p := range parts {
		out[i] = Slice(p)
	}
	return out
}

func (s Slice) String() string { return string(s) }
