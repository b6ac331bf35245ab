// Package process runs worker subprocesses.
//
// A Handle wraps one started child. The child gets its own process group
// so Stop can signal it together with anything it spawned: SIGTERM first,
// then SIGKILL once the timeout passes. Output is delivered line by line
// to Config.OnOutput.
//
// Example usage:
//
//	h, err := process.Start(process.Config{
//	    Name:   "worker ferm-1",
//	    Binary: os.Args[0],
//	    Args:   []string{"worker", "--device", "ferm-1"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer h.Stop(10 * time.Second)
package process
