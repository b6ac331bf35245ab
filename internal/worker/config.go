package worker

import (
	"time"

	"github.com/nerrad567/brewlink/internal/infrastructure/config"
	"github.com/nerrad567/brewlink/internal/transport"
)

const maxPendingRows = 1000

// Config tunes one worker.
type Config struct {
	HeartbeatInterval time.Duration
	PollTimeout       time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	VersionTimeout    time.Duration

	// ControlSocketDir holds <device_id>.sock. Empty disables it.
	ControlSocketDir string

	// LogFlushRows flushes pending rows once this many are queued.
	LogFlushRows int

	RetryLimit int
	RetryDelay time.Duration
	Dial       transport.DialOptions
}

// FromConfig resolves the worker settings for a device on the given medium.
func FromConfig(cfg *config.Config, kind transport.Kind) Config {
	wc := Config{
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PollTimeout:       cfg.Worker.PollTimeout,
		ReconnectDelay:    cfg.Worker.ReconnectDelay,
		MaxReconnectDelay: cfg.Worker.MaxReconnectDelay,
		VersionTimeout:    cfg.Worker.VersionTimeout,
		ControlSocketDir:  cfg.Worker.ControlSocketDir,
		LogFlushRows:      cfg.Worker.LogFlushRows,
		RetryDelay:        cfg.Transport.RetryDelay,
	}
	if kind == transport.KindSerial {
		wc.RetryLimit = cfg.SerialRetryLimit()
		wc.Dial = transport.DialOptions{
			BaudRate:    cfg.Transport.Serial.BaudRate,
			ReadTimeout: cfg.Transport.Serial.ReadTimeout,
		}
	} else {
		wc.RetryLimit = cfg.SocketRetryLimit()
		wc.Dial = transport.DialOptions{
			ReadTimeout:    cfg.Transport.Socket.ReadTimeout,
			ConnectTimeout: cfg.Transport.Socket.ConnectTimeout,
		}
	}
	return wc
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnectDelay < c.ReconnectDelay {
		c.MaxReconnectDelay = c.ReconnectDelay
	}
	if c.VersionTimeout <= 0 {
		c.VersionTimeout = 10 * time.Second
	}
	if c.LogFlushRows <= 0 {
		c.LogFlushRows = 12
	}
	return c
}
