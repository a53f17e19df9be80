package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"nest-server/models"
)

type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelPush}

// Event keys used in the preference document
const (
	EventGearRequests         = "gear_requests"
	EventGearCheckins         = "gear_checkins"
	EventCarBookings          = "car_bookings"
	EventOverdueReminders     = "overdue_reminders"
	EventReservationReminders = "reservation_reminders"
	EventAnnouncements        = "announcements"
	EventLoginAlerts          = "login_alerts"
	EventSystem               = "system"
)

var EventKeys = []string{
	EventGearRequests,
	EventGearCheckins,
	EventCarBookings,
	EventOverdueReminders,
	EventReservationReminders,
	EventAnnouncements,
	EventLoginAlerts,
	EventSystem,
}

// Preferences is the decoded channel -> event -> value document stored on a profile.
// Values are kept raw so that non-boolean leftovers don't break decoding.
type Preferences map[Channel]map[string]json.RawMessage

// ShouldNotify decides whether channel is enabled for eventKey on profile.
// A missing profile, or a missing address for email, means the channel is unavailable.
// Otherwise the channel is on unless the stored value is exactly the JSON boolean false.
func ShouldNotify(profile *models.Profile, channel Channel, eventKey string) bool {
	if profile == nil {
		return false
	}
	if channel == ChannelEmail && strings.TrimSpace(profile.Email) == "" {
		return false
	}

	prefs := DecodePreferences(profile.NotificationPreferences)
	return prefs.Enabled(channel, eventKey)
}

// DecodePreferences never fails; malformed documents and malformed channels read as empty.
func DecodePreferences(raw datatypes.JSON) Preferences {
	prefs := Preferences{}
	if len(raw) == 0 {
		return prefs
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return prefs
	}
	for channel, value := range top {
		var events map[string]json.RawMessage
		if err := json.Unmarshal(value, &events); err != nil {
			continue
		}
		prefs[Channel(channel)] = events
	}
	return prefs
}

func (p Preferences) Enabled(channel Channel, eventKey string) bool {
	value, ok := p[channel][eventKey]
	if !ok {
		return true
	}
	return strings.TrimSpace(string(value)) != "false"
}

// Set stores an explicit boolean for channel/eventKey.
func (p Preferences) Set(channel Channel, eventKey string, enabled bool) {
	if p[channel] == nil {
		p[channel] = map[string]json.RawMessage{}
	}
	if enabled {
		p[channel][eventKey] = json.RawMessage("true")
	} else {
		p[channel][eventKey] = json.RawMessage("false")
	}
}

// Resolved expands the document into booleans for every known channel and event.
func (p Preferences) Resolved() map[Channel]map[string]bool {
	out := make(map[Channel]map[string]bool, len(Channels))
	for _, channel := range Channels {
		out[channel] = make(map[string]bool, len(EventKeys))
		for _, key := range EventKeys {
			out[channel][key] = p.Enabled(channel, key)
		}
	}
	return out
}

func (p Preferences) JSON() (datatypes.JSON, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func IsKnownChannel(channel Channel) bool {
	for _, c := range Channels {
		if c == channel {
			return true
		}
	}
	return false
}

func IsKnownEvent(key string) bool {
	for _, k := range EventKeys {
		if k == key {
			return true
		}
	}
	return false
}
