package discovery

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/system-sensors/internal/sensors"
	"github.com/system-sensors/internal/topic"
)

// Manufacturer 设备厂商字段（固定值）
const Manufacturer = "RPI"

// Payload Home Assistant discovery 描述，字段顺序即输出顺序
type Payload struct {
	DeviceClass       string `json:"device_class,omitempty"`
	Name              string `json:"name"`
	PayloadOn         string `json:"payload_on"`
	PayloadOff        string `json:"payload_off"`
	StateTopic        string `json:"state_topic"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	ValueTemplate     string `json:"value_template"`
	UniqueID          string `json:"unique_id"`
	AvailabilityTopic string `json:"availability_topic"`
	Device            Device `json:"device"`
	Icon              string `json:"icon,omitempty"`
}

// Device 设备信息
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// Build 生成单个指标的 discovery 描述
func Build(t topic.Topics, displayName string, d sensors.Descriptor) Payload {
	p := Payload{
		DeviceClass:       d.Class,
		Name:              displayName + " " + d.DisplayName,
		PayloadOn:         sensors.FormatBool(true),
		PayloadOff:        sensors.FormatBool(false),
		StateTopic:        t.State(),
		UnitOfMeasurement: d.Unit,
		ValueTemplate:     fmt.Sprintf("{{value_json.%s}}", d.Name),
		UniqueID:          fmt.Sprintf("%s_sensor_%s", t.Device, d.Name),
		AvailabilityTopic: t.Availability(),
		Device: Device{
			Identifiers:  []string{t.Device + "_sensor"},
			Name:         displayName,
			Model:        displayName,
			Manufacturer: Manufacturer,
		},
	}
	if d.Icon != "" {
		p.Icon = "mdi:" + d.Icon
	}
	return p
}

// Marshal 序列化，不转义 HTML 字符
func (p Payload) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
