package common

import (
	"errors"
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

// Pauses is an in-memory PauseView toggled by operators at runtime.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauses returns a switchboard with the listed modules paused.
func NewPauses(modules ...string) *Pauses {
	p := &Pauses{paused: make(map[string]bool)}
	for _, module := range modules {
		p.Set(module, true)
	}
	return p
}

// Set pauses or resumes a module.
func (p *Pauses) Set(module string, paused bool) {
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.paused[key] = true
		return
	}
	delete(p.paused, key)
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused[strings.ToLower(strings.TrimSpace(module))]
}
