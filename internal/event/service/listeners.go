package service

import (
	"fmt"
	"sync"

	eventdomain "github.com/smallbiznis/allocledger/internal/event/domain"
)

// Listeners is the ordered listener registry. Listeners for a name run in
// registration order.
type Listeners struct {
	mu     sync.RWMutex
	byName map[eventdomain.Name][]eventdomain.Listener
}

func NewListeners() *Listeners {
	return &Listeners{byName: map[eventdomain.Name][]eventdomain.Listener{}}
}

func (l *Listeners) Register(name eventdomain.Name, listener eventdomain.Listener) error {
	if !eventdomain.IsKnown(name) {
		return fmt.Errorf("register %s: unknown event name %q", listener.Name(), name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byName[name] = append(l.byName[name], listener)
	return nil
}

func (l *Listeners) For(name eventdomain.Name) []eventdomain.Listener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	registered := l.byName[name]
	out := make([]eventdomain.Listener, len(registered))
	copy(out, registered)
	return out
}
