// Package mqtt connects brewlink to an MQTT broker.
//
// The broker carries three kinds of traffic:
//   - retained worker status, one topic per device
//   - controller log rows and error reports
//   - remote commands for a worker, in the same "type=body" form the
//     local control socket accepts
//
// A Last Will marks the process offline if it dies without closing the
// client. Subscriptions are remembered and restored after a reconnect.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishRetained(mqtt.Topics{}.DeviceStatus("ferm-1"), payload)
package mqtt
