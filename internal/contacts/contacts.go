// Package contacts tracks each agent's known peers and renders the
// address-book block injected into system prompts. Entries are derived
// from the org tree and message flow, so nothing here is persisted.
package contacts

import (
	"fmt"
	"strings"
	"sync"
)

// Well-known labels for auto entries.
const (
	LabelParent       = "parent"
	LabelChild        = "child"
	LabelPeer         = "peer"
	LabelCollaborator = "collaborator"
)

// Contact is one known peer.
type Contact struct {
	PeerID string `json:"peerId"`
	Label  string `json:"label"`
	Note   string `json:"note,omitempty"`
}

// Registry holds one address book per agent. Books preserve insertion
// order so prompts stay stable across a step.
type Registry struct {
	mu    sync.RWMutex
	books map[string]map[string]Contact
	order map[string][]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		books: make(map[string]map[string]Contact),
		order: make(map[string][]string),
	}
}

// Add upserts a contact in the agent's book. A known peer keeps its
// position; label and note are refreshed.
func (r *Registry) Add(agentID string, c Contact) {
	if c.PeerID == "" || c.PeerID == agentID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(agentID, c)
}

func (r *Registry) addLocked(agentID string, c Contact) {
	book, ok := r.books[agentID]
	if !ok {
		book = make(map[string]Contact)
		r.books[agentID] = book
	}
	if _, known := book[c.PeerID]; !known {
		r.order[agentID] = append(r.order[agentID], c.PeerID)
	}
	book[c.PeerID] = c
}

// AddIfAbsent records the contact only when the peer is new. Returns true
// when an entry was created. Used for first-time senders so an explicit
// parent/child/collaborator label is never downgraded.
func (r *Registry) AddIfAbsent(agentID string, c Contact) bool {
	if c.PeerID == "" || c.PeerID == agentID {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if book, ok := r.books[agentID]; ok {
		if _, known := book[c.PeerID]; known {
			return false
		}
	}
	r.addLocked(agentID, c)
	return true
}

// Contacts returns the agent's book in insertion order.
func (r *Registry) Contacts(agentID string) []Contact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.order[agentID]
	book := r.books[agentID]
	out := make([]Contact, 0, len(ids))
	for _, id := range ids {
		if c, ok := book[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// RemoveAgent drops the agent's own book and every entry pointing at it
// in other books (terminated peers must not be offered as recipients).
func (r *Registry) RemoveAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.books, agentID)
	delete(r.order, agentID)

	for owner, book := range r.books {
		if _, ok := book[agentID]; !ok {
			continue
		}
		delete(book, agentID)
		ids := r.order[owner]
		for i, id := range ids {
			if id == agentID {
				r.order[owner] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
}

// RenderBlock produces the address-book section for the agent's system
// prompt, "" when the agent knows nobody.
func (r *Registry) RenderBlock(agentID string) string {
	entries := r.Contacts(agentID)
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Contacts\n")
	b.WriteString("Agents you can reach with send_message (use the id as the recipient):\n")
	for _, c := range entries {
		if c.Note != "" {
			fmt.Fprintf(&b, "- %s (%s): %s\n", c.PeerID, c.Label, c.Note)
		} else {
			fmt.Fprintf(&b, "- %s (%s)\n", c.PeerID, c.Label)
		}
	}
	return b.String()
}
