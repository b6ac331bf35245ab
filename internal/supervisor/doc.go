// Package supervisor keeps one live worker per active device.
//
// A single reconciliation loop owns the tracked-worker map. Each cycle it
// drops workers that have exited, stops workers whose device was
// deactivated or whose configuration revision changed, and spawns workers
// for active devices without one, pausing a settle interval between
// spawns. A worker reaped in a cycle is respawned no earlier than the
// next cycle, which acts as backoff for persistently failing devices.
//
// Workers are reached through Handle, so the loop is the same whether a
// worker is an OS process (ProcessSpawner) or a goroutine
// (GoroutineSpawner).
package supervisor
