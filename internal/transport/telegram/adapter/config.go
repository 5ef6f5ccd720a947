package adapter

import "time"

// stopGrace bounds how long Stop waits for an in-flight long poll.
const stopGrace = 2 * time.Second

// Config configures the telebot long-poller.
type Config struct {
	Token       string
	PollTimeout time.Duration

	// UpdatesDropReport is how often dropped-update counts are logged.
	UpdatesDropReport time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Second
	}
	if c.UpdatesDropReport <= 0 {
		c.UpdatesDropReport = 5 * time.Second
	}
	return c
}
