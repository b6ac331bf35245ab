package mqtt

import "fmt"

// TopicPrefix is the root of every brewlink topic.
const TopicPrefix = "brewlink"

// Topics builds brewlink topic names.
//
//	mqtt.Topics{}.DeviceStatus("ferm-1") // brewlink/device/ferm-1/status
type Topics struct{}

// DeviceStatus carries a worker's retained state.
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/status", TopicPrefix, deviceID)
}

// DeviceLog carries controller log rows.
func (Topics) DeviceLog(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/log", TopicPrefix, deviceID)
}

// DeviceCommand carries remote commands for a worker.
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/command", TopicPrefix, deviceID)
}

// DeviceErrors carries error reports raised for one device.
func (Topics) DeviceErrors(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/errors", TopicPrefix, deviceID)
}

// SystemStatus carries the retained online/offline state of a client.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// SystemErrors carries error reports not tied to a device.
func (Topics) SystemErrors() string {
	return TopicPrefix + "/system/errors"
}

// AllDeviceStatus matches every device status topic.
func (Topics) AllDeviceStatus() string {
	return TopicPrefix + "/device/+/status"
}

// AllTopics matches everything under the prefix.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
