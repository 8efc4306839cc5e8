package scheduler

// Priority levels requested from the platform.
type Priority string

const (
	PriorityDefault Priority = "default"
	PriorityMax     Priority = "max"
)

// Channel identifiers, matching the notification channels the platform registers.
const (
	ChannelDefault  = "default"
	ChannelCritical = "critical"
)

// Capabilities describes what the host notification platform supports.
type Capabilities struct {
	Channels         bool `koanf:"channels"`
	CriticalAlerts   bool `koanf:"critical_alerts"`
	FullScreenIntent bool `koanf:"full_screen_intent"`
	// QuietRoutine delivers non-critical reminders without sound.
	QuietRoutine bool `koanf:"quiet_routine"`
}

// Classification is the platform-neutral delivery configuration for one
// notification.
type Classification struct {
	Channel           string   `json:"channel,omitempty"`
	Priority          Priority `json:"priority"`
	BypassDND         bool     `json:"bypassDnd"`
	Sticky            bool     `json:"sticky"`
	AutoDismiss       bool     `json:"autoDismiss"`
	PlaySound         bool     `json:"playSound"`
	SoundVolume       float64  `json:"soundVolume"`
	InterruptionLevel string   `json:"interruptionLevel,omitempty"`
	FullScreen        bool     `json:"fullScreen"`
	Category          string   `json:"category"`
}

// Classify maps the critical flag onto what the platform can actually do.
// Critical reminders get the highest priority, override silent and
// do-not-disturb modes, stay on screen and play at full volume.
func Classify(isCritical bool, caps Capabilities) Classification {
	if !isCritical {
		c := Classification{
			Priority:    PriorityDefault,
			AutoDismiss: true,
			PlaySound:   true,
			SoundVolume: 0.5,
			Category:    "reminder",
		}
		if caps.Channels {
			c.Channel = ChannelDefault
		}
		if caps.QuietRoutine {
			c.PlaySound = false
			c.SoundVolume = 0
		}
		return c
	}

	c := Classification{
		Priority:    PriorityMax,
		BypassDND:   true,
		Sticky:      true,
		AutoDismiss: false,
		PlaySound:   true,
		SoundVolume: 1.0,
		Category:    "critical-reminder",
	}
	if caps.Channels {
		c.Channel = ChannelCritical
	}
	if caps.CriticalAlerts {
		c.InterruptionLevel = "critical"
	}
	if caps.FullScreenIntent {
		c.FullScreen = true
	}
	return c
}
