package registry

import "sort"

// Participant is a connected provider or taker and its notification inbox.
type Participant struct {
	Name  string
	Inbox string
}

// Registry tracks the providers and takers currently connected to a venue.
// It is owned and mutated only by the venue facade's serial event loop, so
// it carries no locking. Names are unique per venue; last writer for a name
// wins. Takers are mutually invisible: only provider joins and leaves are
// announced, and the fan-out itself is the facade's job.
type Registry struct {
	providerInbox   map[string]string // name -> inbox
	takerInbox      map[string]string
	providerByInbox map[string]string // inbox -> name
	takerByInbox    map[string]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		providerInbox:   make(map[string]string),
		takerInbox:      make(map[string]string),
		providerByInbox: make(map[string]string),
		takerByInbox:    make(map[string]string),
	}
}

// RegisterProvider adds or overwrites a provider. Overwriting with a new
// inbox drops the reverse mapping of the previous one.
func (r *Registry) RegisterProvider(name, inbox string) {
	if old, ok := r.providerInbox[name]; ok && old != inbox {
		delete(r.providerByInbox, old)
	}
	r.providerInbox[name] = inbox
	r.providerByInbox[inbox] = name
}

// UnregisterProvider removes a provider, reporting whether it was present.
func (r *Registry) UnregisterProvider(name string) bool {
	inbox, ok := r.providerInbox[name]
	if !ok {
		return false
	}
	delete(r.providerInbox, name)
	if r.providerByInbox[inbox] == name {
		delete(r.providerByInbox, inbox)
	}
	return true
}

// RegisterTaker adds or overwrites a taker.
func (r *Registry) RegisterTaker(name, inbox string) {
	if old, ok := r.takerInbox[name]; ok && old != inbox {
		delete(r.takerByInbox, old)
	}
	r.takerInbox[name] = inbox
	r.takerByInbox[inbox] = name
}

// UnregisterTaker removes a taker, reporting whether it was present.
func (r *Registry) UnregisterTaker(name string) bool {
	inbox, ok := r.takerInbox[name]
	if !ok {
		return false
	}
	delete(r.takerInbox, name)
	if r.takerByInbox[inbox] == name {
		delete(r.takerByInbox, inbox)
	}
	return true
}

// ProviderInbox returns a provider's inbox.
func (r *Registry) ProviderInbox(name string) (string, bool) {
	inbox, ok := r.providerInbox[name]
	return inbox, ok
}

// TakerInbox returns a taker's inbox.
func (r *Registry) TakerInbox(name string) (string, bool) {
	inbox, ok := r.takerInbox[name]
	return inbox, ok
}

// ProviderByInbox resolves the sender of a message back to a provider name.
func (r *Registry) ProviderByInbox(inbox string) (string, bool) {
	name, ok := r.providerByInbox[inbox]
	return name, ok
}

// TakerByInbox resolves the sender of a message back to a taker name.
func (r *Registry) TakerByInbox(inbox string) (string, bool) {
	name, ok := r.takerByInbox[inbox]
	return name, ok
}

// HasProvider reports whether a provider name is registered.
func (r *Registry) HasProvider(name string) bool {
	_, ok := r.providerInbox[name]
	return ok
}

// Providers returns a name-ordered snapshot of registered provider names.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.providerInbox))
	for name := range r.providerInbox {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderPeers returns every registered provider except the named one.
func (r *Registry) ProviderPeers(except string) []Participant {
	peers := make([]Participant, 0, len(r.providerInbox))
	for _, name := range r.Providers() {
		if name == except {
			continue
		}
		peers = append(peers, Participant{Name: name, Inbox: r.providerInbox[name]})
	}
	return peers
}

// Takers returns a name-ordered snapshot of registered takers.
func (r *Registry) Takers() []Participant {
	names := make([]string, 0, len(r.takerInbox))
	for name := range r.takerInbox {
		names = append(names, name)
	}
	sort.Strings(names)

	takers := make([]Participant, 0, len(names))
	for _, name := range names {
		takers = append(takers, Participant{Name: name, Inbox: r.takerInbox[name]})
	}
	return takers
}
