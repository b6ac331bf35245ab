package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/brewlink/internal/registry"
)

// ErrStopTimeout is returned when a worker that cannot be killed did not
// stop in time.
var ErrStopTimeout = errors.New("supervisor: worker did not stop in time")

// Handle is a running worker.
type Handle interface {
	// DeviceID returns the device the worker serves.
	DeviceID() string

	// Revision is the device config revision the worker was started with.
	Revision() int64

	IsAlive() bool

	// Stop asks the worker to stop and waits up to timeout, forcing it
	// where the medium allows.
	Stop(timeout time.Duration) error

	// Join blocks until the worker has exited or ctx is done.
	Join(ctx context.Context) error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, dev *registry.DeviceConfig) (Handle, error)
}
