// Package influxdb stores controller log rows in InfluxDB v2.
//
// Each temperature row the firmware reports becomes one point in the
// "controller_log" measurement tagged with the device ID. Writes are
// non-blocking and batched; write errors arrive through SetOnError.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without a time series store
//	}
//	defer client.Close()
//
//	client.WriteLogRow("ferm-1", row, time.Now())
package influxdb
