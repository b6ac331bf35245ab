package registry

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nerrad567/brewlink/internal/transport"
)

// DeviceConfig identifies one controller and how to reach it. A worker
// treats it as immutable; any change the supervisor must act on bumps
// Revision.
type DeviceConfig struct {
	ID     string
	Name   string
	Active bool

	Transport  transport.Kind
	Port       string
	BaudRate   int
	Host       string
	TCPPort    int
	SocketPath string

	// FirmwareVersion is the last version the worker detected.
	FirmwareVersion string

	// Settings were saved under SettingsVersion and may need migrating.
	Settings        map[string]any
	SettingsVersion string

	// Leftovers are settings a migration could not restore.
	Leftovers map[string]any

	Revision  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address returns the dial target for the configured transport.
func (c *DeviceConfig) Address() string {
	switch c.Transport {
	case transport.KindSerial:
		return c.Port
	case transport.KindTCP:
		return net.JoinHostPort(c.Host, strconv.Itoa(c.TCPPort))
	case transport.KindUnix:
		return c.SocketPath
	default:
		return ""
	}
}

// Validate checks that the record names a reachable target.
func (c *DeviceConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	switch c.Transport {
	case transport.KindSerial:
		if c.Port == "" {
			return fmt.Errorf("%w: %s: serial port is required", ErrInvalidConfig, c.ID)
		}
		if c.BaudRate < 0 {
			return fmt.Errorf("%w: %s: baud rate must not be negative", ErrInvalidConfig, c.ID)
		}
	case transport.KindTCP:
		if c.Host == "" || c.TCPPort <= 0 || c.TCPPort > 65535 {
			return fmt.Errorf("%w: %s: tcp needs host and port 1-65535", ErrInvalidConfig, c.ID)
		}
	case transport.KindUnix:
		if c.SocketPath == "" {
			return fmt.Errorf("%w: %s: socket path is required", ErrInvalidConfig, c.ID)
		}
	default:
		return fmt.Errorf("%w: %s: unknown transport %q", ErrInvalidConfig, c.ID, c.Transport)
	}
	return nil
}

// Registry is what the supervisor reads.
type Registry interface {
	// ListActiveDeviceIDs returns active IDs in a stable order.
	ListActiveDeviceIDs(ctx context.Context) ([]string, error)

	// LoadDeviceConfig returns ErrNotFound for unknown IDs.
	LoadDeviceConfig(ctx context.Context, id string) (*DeviceConfig, error)
}

// Recorder is what workers write back.
type Recorder interface {
	RecordFirmware(ctx context.Context, id, version string) error
	RecordSettings(ctx context.Context, id string, settings map[string]any, version string) error
	RecordLeftovers(ctx context.Context, id string, leftovers map[string]any) error
}

// Store is a Registry that also accepts worker reports.
type Store interface {
	Registry
	Recorder
}
