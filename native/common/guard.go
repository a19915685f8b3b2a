package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is an operator-controlled set of paused modules. It is safe for
// concurrent use.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]struct{}
}

// NewPauseSet returns a set with the given modules paused.
func NewPauseSet(modules ...string) *PauseSet {
	s := &PauseSet{paused: make(map[string]struct{})}
	for _, m := range modules {
		s.Set(m, true)
	}
	return s
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

// IsPaused implements PauseView.
func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.paused[normalizeModule(module)]
	return ok
}

// Set toggles the pause switch of module.
func (s *PauseSet) Set(module string, paused bool) {
	key := normalizeModule(module)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil {
		s.paused = make(map[string]struct{})
	}
	if paused {
		s.paused[key] = struct{}{}
		return
	}
	delete(s.paused, key)
}

// Modules lists the paused modules in sorted order.
func (s *PauseSet) Modules() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.paused))
	for m := range s.paused {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
