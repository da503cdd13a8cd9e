package source

// SliceSequence serves items already held in memory.
type SliceSequence struct {
	items []string
	pos   int
}

func NewSliceSequence(items []string) *SliceSequence {
	return &SliceSequence{items: items, pos: -1}
}

func (s *SliceSequence) Next() bool {
	if s.pos+1 >= len(s.items) {
		s.pos = len(s.items)
		return false
	}
	s.pos++
	return true
}

func (s *SliceSequence) Item() string {
	if s.pos < 0 || s.pos >= len(s.items) {
		return ""
	}
	return s.items[s.pos]
}

func (s *SliceSequence) Err() error   { return nil }
func (s *SliceSequence) Close() error { return nil }

// Drain collects every remaining item.
func Drain(seq ResultSequence) ([]string, error) {
	items := make([]string, 0)
	for seq.Next() {
		items = append(items, seq.Item())
	}
	return items, seq.Err()
}
