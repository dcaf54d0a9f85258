package rewind

import (
	"slices"
	"sync"
)

// MembershipChangeHandler is called after a session's channel set changes.
//
// Transports use it to send the change_room_names notification so clients
// know which channels to declare on their next reconnect.
type MembershipChangeHandler func(session string, channels []string)

// Membership tracks which channels each session belongs to.
//
// It is owned by the core and updated only through explicit Join and Leave
// calls from the transport layer. All methods are safe for concurrent use.
type Membership struct {
	mu       sync.RWMutex
	sessions map[string]map[string]struct{}
	onChange MembershipChangeHandler
}

// NewMembership creates an empty membership registry.
//
// Parameters:
//   - onChange: Optional callback fired after Join or Leave changes a session
//
// Returns:
//   - *Membership: A new registry
func NewMembership(onChange MembershipChangeHandler) *Membership {
	return &Membership{
		sessions: make(map[string]map[string]struct{}),
		onChange: onChange,
	}
}

// Join adds session to channel and returns the session's updated channels.
//
// Joining a channel the session already belongs to changes nothing and
// does not fire the change callback.
func (m *Membership) Join(session, channel string) []string {
	m.mu.Lock()
	set, ok := m.sessions[session]
	if !ok {
		set = make(map[string]struct{})
		m.sessions[session] = set
	}
	_, existed := set[channel]
	set[channel] = struct{}{}
	channels := sortedKeys(set)
	m.mu.Unlock()

	if !existed && m.onChange != nil {
		m.onChange(session, channels)
	}

	return channels
}

// Leave removes session from channel and returns the session's updated channels.
func (m *Membership) Leave(session, channel string) []string {
	m.mu.Lock()
	set := m.sessions[session]
	_, existed := set[channel]
	delete(set, channel)
	if len(set) == 0 {
		delete(m.sessions, session)
	}
	channels := sortedKeys(set)
	m.mu.Unlock()

	if existed && m.onChange != nil {
		m.onChange(session, channels)
	}

	return channels
}

// Channels returns the sorted channels a session belongs to.
func (m *Membership) Channels(session string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return sortedKeys(m.sessions[session])
}

// Members returns the sorted sessions that belong to channel.
func (m *Membership) Members(channel string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var members []string
	for session, set := range m.sessions {
		if _, ok := set[channel]; ok {
			members = append(members, session)
		}
	}
	slices.Sort(members)

	return members
}

// IsMember reports whether session belongs to channel.
func (m *Membership) IsMember(session, channel string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.sessions[session][channel]
	return ok
}

// Remove forgets a session entirely, typically on disconnect.
// It does not fire the change callback.
func (m *Membership) Remove(session string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, session)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return keys
}
