package config

import "time"

// Config is the root configuration for taskwire.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Client  ClientConfig  `json:"client"`
	Storage StorageConfig `json:"storage"`
}

// ServerConfig holds the coordinating server settings.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ClientConfig holds the sync client settings.
type ClientConfig struct {
	// Endpoint is the server WebSocket URL, e.g. ws://127.0.0.1:8420/api/ws.
	Endpoint  string          `json:"endpoint"`
	Reconnect ReconnectConfig `json:"reconnect"`
}

// ReconnectConfig bounds the automatic reconnection policy.
type ReconnectConfig struct {
	MaxAttempts  int      `json:"max_attempts"`
	InitialDelay Duration `json:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"`
}

// StorageConfig holds server-side persistence settings.
type StorageConfig struct {
	// DatabasePath is the sqlite file holding task lists and tasks.
	DatabasePath string `json:"database_path"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
