package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RadioConfig selects the transceiver backend and modem settings.
// Example YAML:
//
//	radio:
//	  kind: serial
//	  serial: { port: /dev/ttyUSB0, baud: 115200 }
//	  frequency_hz: 868100000
//	  spreading_factor: 9
type RadioConfig struct {
	// Kind: mem, serial or mqtt
	Kind string `mapstructure:"kind"`

	FrequencyHz     uint32 `mapstructure:"frequency_hz"`
	SyncWord        uint8  `mapstructure:"sync_word"`
	SpreadingFactor uint8  `mapstructure:"spreading_factor"`
	BandwidthCode   uint8  `mapstructure:"bandwidth_code"`
	CodingRate      uint8  `mapstructure:"coding_rate"`
	TxPower         uint8  `mapstructure:"tx_power"`

	// DutyCycleBytesPerSec caps airtime; 0 disables shaping.
	DutyCycleBytesPerSec int64 `mapstructure:"duty_cycle_bytes_per_sec"`
	TxTimeoutMS          int   `mapstructure:"tx_timeout_ms"`
	TxQueue              int   `mapstructure:"tx_queue"`
	EventBuffer          int   `mapstructure:"event_buffer"`

	Serial SerialConfig `mapstructure:"serial"`
	MQTT   MQTTConfig   `mapstructure:"mqtt"`
}

// SerialConfig points at a UART-to-SPI bridge board.
type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

// MQTTConfig describes the broker used as virtual air.
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func defaultRadio() RadioConfig {
	return RadioConfig{
		Kind:            "mem",
		FrequencyHz:     868_100_000,
		SyncWord:        0x12,
		SpreadingFactor: 9,
		BandwidthCode:   7,
		CodingRate:      1,
		TxPower:         14,
		TxTimeoutMS:     5000,
		TxQueue:         16,
		EventBuffer:     32,
		Serial:          SerialConfig{Port: "/dev/ttyUSB0", Baud: 115200},
		MQTT:            MQTTConfig{Broker: "tcp://localhost:1883", Topic: "loramesh/868"},
	}
}

func seedRadio(v *viper.Viper, r RadioConfig) {
	v.SetDefault("radio.kind", r.Kind)
	v.SetDefault("radio.frequency_hz", r.FrequencyHz)
	v.SetDefault("radio.sync_word", r.SyncWord)
	v.SetDefault("radio.spreading_factor", r.SpreadingFactor)
	v.SetDefault("radio.bandwidth_code", r.BandwidthCode)
	v.SetDefault("radio.coding_rate", r.CodingRate)
	v.SetDefault("radio.tx_power", r.TxPower)
	v.SetDefault("radio.duty_cycle_bytes_per_sec", r.DutyCycleBytesPerSec)
	v.SetDefault("radio.tx_timeout_ms", r.TxTimeoutMS)
	v.SetDefault("radio.tx_queue", r.TxQueue)
	v.SetDefault("radio.event_buffer", r.EventBuffer)
	v.SetDefault("radio.serial.port", r.Serial.Port)
	v.SetDefault("radio.serial.baud", r.Serial.Baud)
	v.SetDefault("radio.mqtt.broker", r.MQTT.Broker)
	v.SetDefault("radio.mqtt.topic", r.MQTT.Topic)
	v.SetDefault("radio.mqtt.username", r.MQTT.Username)
	v.SetDefault("radio.mqtt.password", r.MQTT.Password)
}

func (r *RadioConfig) validate() error {
	r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
	switch r.Kind {
	case "mem":
	case "serial":
		if r.Serial.Port == "" {
			return fmt.Errorf("radio.serial.port is required for kind serial")
		}
	case "mqtt":
		if r.MQTT.Broker == "" || r.MQTT.Topic == "" {
			return fmt.Errorf("radio.mqtt.broker and radio.mqtt.topic are required for kind mqtt")
		}
	default:
		return fmt.Errorf("invalid radio.kind: %q", r.Kind)
	}
	if r.DutyCycleBytesPerSec < 0 {
		return fmt.Errorf("invalid radio.duty_cycle_bytes_per_sec: %d", r.DutyCycleBytesPerSec)
	}
	return nil
}

func (r RadioConfig) TxTimeout() time.Duration { return ms(r.TxTimeoutMS) }
