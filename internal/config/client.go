package config

import (
	"errors"
	"fmt"
	"time"
)

// ClientConfig is what the terminal client needs: where the backend is, the
// game rules a host plays with, and the client-side timers.
type ClientConfig struct {
	ServerURL string

	InitialLives int
	MinBullets   int
	MaxBullets   int

	ReloadDelay    time.Duration
	ReloadFallback time.Duration
	RevealWindow   time.Duration

	Log Log
}

func LoadClient() (ClientConfig, error) {
	v, err := newViper()
	if err != nil {
		return ClientConfig{}, err
	}

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("initial_lives", 4)
	v.SetDefault("min_bullets", 3)
	v.SetDefault("max_bullets", 7)
	v.SetDefault("reload_delay", time.Second)
	v.SetDefault("reload_fallback", 5*time.Second)
	v.SetDefault("reveal_window", 5*time.Second)
	v.SetDefault("log_format", "text")
	v.SetDefault("log_level", "warn")
	v.SetDefault("log_file", "roulette-client.log")

	c := ClientConfig{
		ServerURL:      v.GetString("server_url"),
		InitialLives:   v.GetInt("initial_lives"),
		MinBullets:     v.GetInt("min_bullets"),
		MaxBullets:     v.GetInt("max_bullets"),
		ReloadDelay:    v.GetDuration("reload_delay"),
		ReloadFallback: v.GetDuration("reload_fallback"),
		RevealWindow:   v.GetDuration("reveal_window"),
		Log: Log{
			Format: v.GetString("log_format"),
			Level:  v.GetString("log_level"),
			File:   v.GetString("log_file"),
		},
	}
	if err := c.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return c, nil
}

func (c ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("SERVER_URL is empty")
	}
	if c.ReloadDelay <= 0 || c.ReloadFallback <= 0 || c.RevealWindow <= 0 {
		return errors.New("RELOAD_DELAY, RELOAD_FALLBACK and REVEAL_WINDOW must be positive")
	}
	if c.ReloadFallback < c.ReloadDelay {
		return fmt.Errorf("RELOAD_FALLBACK (%s) shorter than RELOAD_DELAY (%s)", c.ReloadFallback, c.ReloadDelay)
	}
	return c.Log.Validate()
}
