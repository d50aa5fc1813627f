package db

import (
	"strings"

	"github.com/mcnijman/go-emailaddress"
)

// ValidateEvent checks an event before it is persisted.
func ValidateEvent(e *Event) error {
	if !e.Type.Valid() {
		return invalid("type", "unknown event type %q", e.Type)
	}
	if !e.Priority.Valid() {
		return invalid("priority", "unknown priority %q", e.Priority)
	}
	if strings.TrimSpace(e.Data.Title) == "" {
		return invalid("data.title", "title is required")
	}
	if strings.TrimSpace(e.Data.Description) == "" {
		return invalid("data.description", "description is required")
	}
	return nil
}

// ValidatePreferences checks that every preference names a known event type
// and at least one known channel.
func ValidatePreferences(prefs []Preference) error {
	for _, p := range prefs {
		if !p.EventType.Valid() {
			return invalid("preferences.event_type", "unknown event type %q", p.EventType)
		}
		if len(p.Channels) == 0 {
			return invalid("preferences.channels", "preference for %s must have at least one channel", p.EventType)
		}
		for _, ch := range p.Channels {
			if !ch.Valid() {
				return invalid("preferences.channels", "unknown channel %q", ch)
			}
		}
	}
	return nil
}

// ValidateUser checks a user before creation and normalizes email and phone.
func ValidateUser(u *User) error {
	u.Name = strings.TrimSpace(u.Name)
	if u.Name == "" {
		return invalid("name", "name is required")
	}

	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return invalid("email", "email is required")
	}
	addr, err := emailaddress.Parse(u.Email)
	if err != nil || addr.LocalPart == "" || !strings.Contains(strings.Trim(addr.Domain, "."), ".") {
		return invalid("email", "%q is not a valid email address", u.Email)
	}

	if u.Phone != nil {
		phone := strings.TrimSpace(*u.Phone)
		if phone == "" {
			u.Phone = nil
		} else {
			u.Phone = &phone
		}
	}

	if u.Preferences == nil {
		return invalid("preferences", "preferences are required")
	}
	return ValidatePreferences(u.Preferences)
}
