package dispatcher

import "sync"

// Flags holds the runtime toggles flipped by device control lines and
// operator commands. Auto mode gates whether vehicle events are
// processed at all.
type Flags struct {
	mu   sync.RWMutex
	auto bool
}

// NewFlags starts with auto mode enabled.
func NewFlags() *Flags {
	return &Flags{auto: true}
}

// AutoEnabled reports whether automatic event processing is on.
func (f *Flags) AutoEnabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.auto
}

// SetAuto flips automatic event processing.
func (f *Flags) SetAuto(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auto = on
}
