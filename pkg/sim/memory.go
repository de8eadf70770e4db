package sim

// MaxMemoryWords caps automatic memory growth when no memory_limit is
// configured.
const MaxMemoryWords = 1 << 24

// checkAddr rejects negative addresses and addresses at or past the memory
// limit, and grows memory with zeros to cover addr.
func (s *Simulator) checkAddr(op string, addr int64) error {
	limit := int64(MaxMemoryWords)
	if s.cfg.MemoryLimit != nil && *s.cfg.MemoryLimit >= 0 && *s.cfg.MemoryLimit < limit {
		limit = *s.cfg.MemoryLimit
	}
	if addr < 0 || addr >= limit {
		return &MemoryBoundsError{Op: op, Addr: addr, Limit: limit}
	}
	if addr >= int64(len(s.Memory)) {
		s.Memory = append(s.Memory, make([]int64, int(addr)+1-len(s.Memory))...)
	}
	return nil
}

func (s *Simulator) load(op string, addr int64) (int64, error) {
	if err := s.checkAddr(op, addr); err != nil {
		return 0, err
	}
	return s.Memory[addr], nil
}

func (s *Simulator) store(op string, addr, v int64) error {
	if err := s.checkAddr(op, addr); err != nil {
		return err
	}
	s.Memory[addr] = v
	return nil
}

// ReadMem returns the word at addr, growing memory as a LOAD would.
func (s *Simulator) ReadMem(addr int64) (int64, error) {
	return s.load("ReadMem", addr)
}

func (s *Simulator) WriteMem(addr, v int64) error {
	return s.store("WriteMem", addr, v)
}
