package main

import (
	"sort"
	"sync"

	"github.com/perchirc/perch/irc"
)

// Channel holds everything to do with a channel.
//
// A channel exists while it has at least one member. Members and ops
// are tracked by canonical nickname; Name keeps the case the creator
// used.
type Channel struct {
	Name string

	// Members in the channel, keyed by canonical nickname with the case
	// the user registered under as the value. If we have zero members,
	// we should not exist.
	Users map[string]string

	// Chanops tracks users who have ops in the channel. Always a subset
	// of Users.
	Chanops map[string]struct{}

	// Banned nicks. May name users not currently known.
	Banned map[string]struct{}

	// Key required on JOIN. Blank means no key.
	Key string

	// Current topic. May be blank.
	Topic string
}

// IsMember reports whether the nick is in the channel.
func (ch *Channel) IsMember(nick string) bool {
	_, exists := ch.Users[canonicalize(nick)]
	return exists
}

// IsChanop reports whether the nick has operator status in the channel.
func (ch *Channel) IsChanop(nick string) bool {
	_, exists := ch.Chanops[canonicalize(nick)]
	return exists
}

// IsBanned reports whether the nick is banned from the channel.
func (ch *Channel) IsBanned(nick string) bool {
	_, exists := ch.Banned[canonicalize(nick)]
	return exists
}

// removeUser takes the nick out of the member and op sets.
func (ch *Channel) removeUser(nick string) {
	canon := canonicalize(nick)
	delete(ch.Users, canon)
	delete(ch.Chanops, canon)
}

// MemberNicks returns the member nicks in their registered case,
// sorted, each prefixed with '@' when the member is a chanop. This is
// the RPL_NAMREPLY rendering.
func (ch *Channel) MemberNicks() []string {
	nicks := make([]string, 0, len(ch.Users))
	for canon, nick := range ch.Users {
		if _, op := ch.Chanops[canon]; op {
			nicks = append(nicks, "@"+nick)
		} else {
			nicks = append(nicks, nick)
		}
	}

	sort.Slice(nicks, func(i, j int) bool {
		a := nicks[i]
		b := nicks[j]
		if a[0] == '@' {
			a = a[1:]
		}
		if b[0] == '@' {
			b = b[1:]
		}
		return canonicalize(a) < canonicalize(b)
	})

	return nicks
}

// ChannelRegistry owns all channels on this node. Channels are created
// implicitly by the first JOIN and deleted when the last member leaves.
type ChannelRegistry struct {
	mu       sync.Mutex
	channels map[string]*Channel
}

func newChannelRegistry() *ChannelRegistry {
	return &ChannelRegistry{channels: make(map[string]*Channel)}
}

// Get looks up a channel by name.
func (r *ChannelRegistry) Get(name string) (*Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[canonicalize(name)]
	return ch, exists
}

// All returns a snapshot of every channel.
func (r *ChannelRegistry) All() []*Channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	return channels
}

// Len returns the number of channels.
func (r *ChannelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Join adds the nick to a channel, creating it if needed. The creator
// becomes a chanop. On an existing channel the ban list is checked
// before the key.
func (r *ChannelRegistry) Join(name, nick, key string) (*Channel, bool,
	error) {

	if !irc.IsValidChannel(name) {
		return nil, false, errNoSuchChannel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	canonName := canonicalize(name)
	canonNick := canonicalize(nick)

	ch, exists := r.channels[canonName]
	if !exists {
		ch = &Channel{
			Name:    name,
			Users:   map[string]string{canonNick: nick},
			Chanops: map[string]struct{}{canonNick: {}},
			Banned:  make(map[string]struct{}),
		}
		r.channels[canonName] = ch
		return ch, true, nil
	}

	if _, member := ch.Users[canonNick]; member {
		return ch, false, errAlreadyOnChannel
	}

	if _, banned := ch.Banned[canonNick]; banned {
		return nil, false, errBannedFromChan
	}

	// The key check runs even when the channel has no key; an empty key
	// matches the empty default.
	if key != ch.Key {
		return nil, false, errBadChannelKey
	}

	ch.Users[canonNick] = nick
	return ch, false, nil
}

// Part removes the nick from the channel, deleting the channel when it
// becomes empty.
func (r *ChannelRegistry) Part(name, nick string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonName := canonicalize(name)

	ch, exists := r.channels[canonName]
	if !exists {
		return nil, errNoSuchChannel
	}

	if !ch.IsMember(nick) {
		return nil, errNotOnChannel
	}

	ch.removeUser(nick)
	if len(ch.Users) == 0 {
		delete(r.channels, canonName)
	}

	return ch, nil
}

// Kick removes target from the channel on behalf of op. op must be a
// chanop on the channel.
func (r *ChannelRegistry) Kick(name, op, target string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonName := canonicalize(name)

	ch, exists := r.channels[canonName]
	if !exists {
		return nil, errNoSuchChannel
	}

	if !ch.IsMember(op) {
		return nil, errNotOnChannel
	}

	if !ch.IsChanop(op) {
		return nil, errChanopNeeded
	}

	if !ch.IsMember(target) {
		return nil, errUserNotInChannel
	}

	ch.removeUser(target)
	if len(ch.Users) == 0 {
		delete(r.channels, canonName)
	}

	return ch, nil
}

// Quit removes the nick from every channel it is in. It returns the
// remaining members of each affected channel, keyed by channel name, so
// callers can notify them. Channels left empty are deleted.
func (r *ChannelRegistry) Quit(nick string) map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	affected := make(map[string][]string)

	for canonName, ch := range r.channels {
		if !ch.IsMember(nick) {
			continue
		}

		ch.removeUser(nick)

		remaining := make([]string, 0, len(ch.Users))
		for member := range ch.Users {
			remaining = append(remaining, member)
		}
		affected[ch.Name] = remaining

		if len(ch.Users) == 0 {
			delete(r.channels, canonName)
		}
	}

	return affected
}

// Rename replaces a nick with a new one in every channel, preserving
// op status.
func (r *ChannelRegistry) Rename(oldNick, newNick string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldCanon := canonicalize(oldNick)
	newCanon := canonicalize(newNick)

	for _, ch := range r.channels {
		if _, member := ch.Users[oldCanon]; !member {
			continue
		}

		delete(ch.Users, oldCanon)
		ch.Users[newCanon] = newNick

		if _, op := ch.Chanops[oldCanon]; op {
			delete(ch.Chanops, oldCanon)
			ch.Chanops[newCanon] = struct{}{}
		}
	}
}

// ApplyMode mutates one channel mode: op grant/revoke ('o'), key
// set/unset ('k'), ban add/remove ('b'). An op change requires the
// target to be a member; setting a key requires none to be set.
func (r *ChannelRegistry) ApplyMode(name string, adding bool, mode byte,
	arg string) error {

	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[canonicalize(name)]
	if !exists {
		return errNoSuchChannel
	}

	switch mode {
	case 'o':
		canon := canonicalize(arg)
		if _, member := ch.Users[canon]; !member {
			return errUserNotInChannel
		}
		if adding {
			ch.Chanops[canon] = struct{}{}
		} else {
			delete(ch.Chanops, canon)
		}
	case 'k':
		if adding {
			if ch.Key != "" {
				return errKeyAlreadySet
			}
			ch.Key = arg
		} else {
			ch.Key = ""
		}
	case 'b':
		if adding {
			ch.Banned[canonicalize(arg)] = struct{}{}
		} else {
			delete(ch.Banned, canonicalize(arg))
		}
	default:
		return errUnknownMode
	}

	return nil
}

// SetTopic updates the channel's topic.
func (r *ChannelRegistry) SetTopic(name, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, exists := r.channels[canonicalize(name)]
	if !exists {
		return errNoSuchChannel
	}

	ch.Topic = topic
	return nil
}
