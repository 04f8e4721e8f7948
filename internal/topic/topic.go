package topic

import "fmt"

const (
	// Coordinator Home Assistant 上线通知
	Coordinator = "hass/status"

	Online  = "online"
	Offline = "offline"

	// DiscoveryPrefix Home Assistant MQTT discovery 前缀
	DiscoveryPrefix = "homeassistant"
)

// Topics 某个设备的 topic 集合
type Topics struct {
	Device string
}

func New(device string) Topics {
	return Topics{Device: device}
}

// State 状态 topic（qos 1，不保留）
func (t Topics) State() string {
	return fmt.Sprintf("system-sensors/%s/state", t.Device)
}

// Availability 在线状态 topic（保留）
func (t Topics) Availability() string {
	return fmt.Sprintf("system-sensors/%s/availability", t.Device)
}

// Discovery 单个指标的 discovery topic（保留）
func (t Topics) Discovery(entity, metric string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", DiscoveryPrefix, entity, t.Device, metric)
}
