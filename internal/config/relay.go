// Package config also contains the broker relay configuration surface.
package config

// Relay forwards watcher notifications to NATS subjects.
type Relay struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`            // e.g. nats://127.0.0.1:4222
	SubjectPrefix string `yaml:"subject_prefix"` // defaults to "marketwatch"
	Ticks         bool   `yaml:"ticks"`          // relay ticks as well as period closes
}
