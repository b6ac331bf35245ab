// Package registry holds the device configuration the supervisor reads
// and the few facts workers report back.
//
// The supervisor only needs two reads: the ordered list of active device
// IDs and one device's configuration. Workers write back the detected
// firmware version, the settings restored after a migration and the
// leftover settings that could not be carried forward. None of these
// writes bump the config revision, so reporting never restarts a worker.
package registry
