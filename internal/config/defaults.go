package config

import (
	"github.com/knadh/koanf/providers/confmap"
)

func DefaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"store": map[string]interface{}{
			"path": "~/.vocalizeit/vocalizeit.db",
		},
		"timezone": "",
		"speech": map[string]interface{}{
			"enabled":  true,
			"command":  "espeak-ng",
			"language": "en",
			"rate":     0.8,
			"pitch":    1.0,
		},
		"delivery": map[string]interface{}{
			"prime_delay_ms": 1000, // Let speech start before the alarm shows
		},
		"lifecycle": map[string]interface{}{
			"missed_after_minutes": 360,
			"reconcile_interval":   "1m",
		},
		"platform": map[string]interface{}{
			"channels":           true,
			"critical_alerts":    false,
			"full_screen_intent": false,
			"quiet_routine":      false,
		},
		"telegram": map[string]interface{}{
			"enabled":   false,
			"bot_token": "",
			"chat_id":   "",
		},
		"ui": map[string]interface{}{
			"colored_output": true,
		},
	}
}

func NewDefaultProvider() *confmap.Confmap {
	return confmap.Provider(DefaultConfig(), ".")
}

func GetDefaultConfigPath() string {
	return "~/.vocalizeit/config.yaml"
}
