package hub

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Subscriber is one connected viewer session. Push must not block; a
// subscriber that cannot keep up drops frames on its own side. A Push error
// or Closed() == true removes the subscriber from the group on the next
// broadcast that touches it.
type Subscriber interface {
	Push(group string, data []byte) error
	Closed() bool
	Name() string
}

const GlobalGroup = "global"

func UserGroup(ownerID string) string {
	return "user:" + ownerID
}

type group struct {
	mu   sync.Mutex
	name string
	list map[Subscriber]bool
}

func (g *group) broadcast(data []byte, logger zerolog.Logger) {
	g.mu.Lock()
	for sub := range g.list {
		if sub.Closed() {
			delete(g.list, sub)
			continue
		}
		err := sub.Push(g.name, data)
		if err != nil {
			logger.Debug().Str("session", sub.Name()).Str("group", g.name).Err(err).Msg("dropping dead subscriber")
			delete(g.list, sub)
		}
	}
	g.mu.Unlock()
}

// Hub tracks which sessions belong to which broadcast groups. It is the one
// piece of shared mutable state in the process; every mutation and every
// broadcast membership walk holds the relevant lock.
type Hub struct {
	mu     sync.Mutex
	groups map[string]*group
	logger zerolog.Logger
}

func New() *Hub {
	h := &Hub{}
	h.groups = make(map[string]*group)
	h.logger = log.With().Str("module", "hub").Logger()
	return h
}

func (h *Hub) getGroup(name string, create bool) *group {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[name]
	if !ok {
		if !create {
			return nil
		}
		g = &group{name: name, list: make(map[Subscriber]bool)}
		h.groups[name] = g
	}
	return g
}

// Join adds sub to the named group. Joining twice has no additional effect.
func (h *Hub) Join(sub Subscriber, name string) {
	g := h.getGroup(name, true)
	g.mu.Lock()
	g.list[sub] = true
	g.mu.Unlock()
}

func (h *Hub) Leave(sub Subscriber, name string) {
	g := h.getGroup(name, false)
	if g == nil {
		return
	}
	g.mu.Lock()
	delete(g.list, sub)
	g.mu.Unlock()
}

// Broadcast delivers data to every current member of the named group.
// Delivery is fire-and-forget per subscriber; one failed session never
// affects the others and never surfaces to the caller.
func (h *Hub) Broadcast(name string, data []byte) {
	g := h.getGroup(name, false)
	if g == nil {
		return
	}
	g.broadcast(data, h.logger)
}

// DropSession removes sub from every group it joined. Called on disconnect.
func (h *Hub) DropSession(sub Subscriber) {
	h.mu.Lock()
	groups := make([]*group, 0, len(h.groups))
	for _, g := range h.groups {
		groups = append(groups, g)
	}
	h.mu.Unlock()
	for _, g := range groups {
		g.mu.Lock()
		delete(g.list, sub)
		g.mu.Unlock()
	}
}

// Members reports the current size of a group.
func (h *Hub) Members(name string) int {
	g := h.getGroup(name, false)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.list)
}
