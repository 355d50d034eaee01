package main

import (
	"fmt"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/config"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio/mem"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio/mqtt"
	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio/serial"
)

// openRadio builds the transceiver named by c.Kind. The returned func
// releases it.
func openRadio(c config.RadioConfig, node config.NodeConfig) (radio.Transceiver, func(), error) {
	switch c.Kind {
	case "serial":
		b, err := serial.Open(c.Serial.Port, c.Serial.Baud)
		if err != nil {
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	case "mqtt":
		a, err := mqtt.Dial(mqtt.Config{
			BrokerURL: c.MQTT.Broker,
			Username:  c.MQTT.Username,
			Password:  c.MQTT.Password,
			Topic:     c.MQTT.Topic,
			AppName:   node.Name,
		})
		if err != nil {
			return nil, nil, err
		}
		return a, func() { _ = a.Close() }, nil
	case "mem":
		// a lone in-process radio: only loopback traffic, useful for smoke tests
		r, err := mem.New().Attach(node.Name)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown radio kind %q", c.Kind)
}
