package classmgr

import "sync"

// SelectorMap assigns a unique selector to every method name and
// signature pair. The first selector is 1.
type SelectorMap struct {
	mu   sync.Mutex
	m    map[string]uint32
	last uint32
}

// Get returns the selector of name and signature, allocating it on first use.
func (s *SelectorMap) Get(name, signature string) uint32 {
	key := name + "#" + signature
	s.mu.Lock()
	defer s.mu.Unlock()
	if sel, ok := s.m[key]; ok {
		return sel
	}
	if s.m == nil {
		s.m = make(map[string]uint32)
	}
	s.last++
	s.m[key] = s.last
	return s.last
}
