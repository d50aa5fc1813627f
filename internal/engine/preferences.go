package engine

import (
	"context"

	"github.com/lalithlochan/herald/internal/db"
)

// Subscriber is a user together with the channels they want for one event type.
type Subscriber struct {
	User     *db.User
	Channels []db.Channel
}

// PreferenceIndex answers which users subscribe to an event type and on which channels.
type PreferenceIndex struct {
	users db.UserStore
}

func NewPreferenceIndex(users db.UserStore) *PreferenceIndex {
	return &PreferenceIndex{users: users}
}

// ResolveSubscribers returns every user with a preference for eventType. Only
// the first matching preference of a user counts and repeated channels within
// it collapse to one. On a store error no partial list is returned.
func (p *PreferenceIndex) ResolveSubscribers(ctx context.Context, eventType db.EventType) ([]Subscriber, error) {
	if !eventType.Valid() {
		return nil, invalid(&db.ValidationError{Field: "type", Reason: "unknown event type " + string(eventType)})
	}

	users, err := p.users.FindUsersByPreference(ctx, eventType)
	if err != nil {
		return nil, transient("resolve subscribers", err)
	}

	subs := make([]Subscriber, 0, len(users))
	for _, u := range users {
		channels := channelsFor(u, eventType)
		if len(channels) == 0 {
			continue
		}
		subs = append(subs, Subscriber{User: u, Channels: channels})
	}
	return subs, nil
}

func channelsFor(u *db.User, eventType db.EventType) []db.Channel {
	pref, ok := u.PreferenceFor(eventType)
	if !ok {
		return nil
	}

	seen := make(map[db.Channel]struct{}, len(pref.Channels))
	channels := make([]db.Channel, 0, len(pref.Channels))
	for _, ch := range pref.Channels {
		if !ch.Valid() {
			continue
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		channels = append(channels, ch)
	}
	return channels
}
