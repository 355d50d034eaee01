// Package mqtt emulates a shared radio channel over an MQTT broker. Every
// node publishes its transmissions to one topic and hears everything else
// published there, so a broker stands in for the air between real radios.
package mqtt

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/youroldmangaming/LORA-Mesh-Driver/pkg/radio"
)

const idLen = 8

var ErrNotConnected = errors.New("mqtt: client is not connected to broker")

// Config describes the broker and the channel topic.
type Config struct {
	BrokerURL string
	Username  string
	Password  string
	// Topic carries all frames of one channel.
	Topic string
	// AppName prefixes the generated client ID.
	AppName string
}

// Air is a radio.Transceiver whose channel is an MQTT topic.
type Air struct {
	client mqtt.Client
	topic  string
	id     [idLen]byte
	regs   *radio.RegisterFile

	mu sync.Mutex
	h  radio.Handler
}

var _ radio.Transceiver = (*Air)(nil)

// Dial connects to the broker and subscribes to the channel topic.
func Dial(cfg Config) (*Air, error) {
	a := newAir(cfg.Topic)
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	app := cfg.AppName
	if app == "" {
		app = "loramesh"
	}
	opts.SetClientID(fmt.Sprintf("%s-%x", app, a.id[:4]))
	opts.SetOrderMatters(true)
	a.client = mqtt.NewClient(opts)

	token := a.client.Connect()
	<-token.Done()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect MQTT: %w", err)
	}
	token = a.client.Subscribe(a.topic, 0, a.onMessage)
	<-token.Done()
	if err := token.Error(); err != nil {
		a.client.Disconnect(250)
		return nil, fmt.Errorf("failed to subscribe to topic: %w", err)
	}
	zap.L().Info("mqtt air connected", zap.String("broker", cfg.BrokerURL), zap.String("topic", a.topic))
	return a, nil
}

func newAir(topic string) *Air {
	a := &Air{topic: topic, regs: radio.NewRegisterFile()}
	_, _ = rand.Read(a.id[:])
	return a
}

func (a *Air) SetHandler(h radio.Handler) {
	a.mu.Lock()
	a.h = h
	a.mu.Unlock()
}

func (a *Air) handler() radio.Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.h
}

func (a *Air) ReadRegister(_ context.Context, addr uint8) (uint8, error) {
	return a.regs.Read(addr), nil
}

func (a *Air) WriteRegister(_ context.Context, addr, value uint8) error {
	a.regs.Write(addr, value)
	return nil
}

// SendFrame publishes frame; TxDone fires when the broker acknowledges it.
func (a *Air) SendFrame(_ context.Context, frame []byte) error {
	if a.client == nil || !a.client.IsConnected() {
		return ErrNotConnected
	}
	token := a.client.Publish(a.topic, 0, false, encodeEnvelope(a.id, frame))
	go func() {
		<-token.Done()
		err := token.Error()
		if err == nil {
			a.regs.Raise(radio.IrqTxDone)
		}
		if h := a.handler(); h != nil {
			h.TxDone(err)
		}
	}()
	return nil
}

func (a *Air) onMessage(_ mqtt.Client, msg mqtt.Message) {
	id, frame, ok := decodeEnvelope(msg.Payload())
	if !ok {
		zap.L().Debug("mqtt air: malformed message", zap.String("topic", msg.Topic()))
		return
	}
	if id == a.id {
		return
	}
	h := a.handler()
	if h == nil {
		return
	}
	a.regs.Raise(radio.IrqValidHeader | radio.IrqRxDone)
	h.RxStart()
	h.RxDone(frame, nil)
}

// Close disconnects from the broker.
func (a *Air) Close() error {
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
	return nil
}

// encodeEnvelope prefixes frame with the sender id so a node can ignore its
// own echo.
func encodeEnvelope(id [idLen]byte, frame []byte) []byte {
	out := make([]byte, idLen+len(frame))
	copy(out, id[:])
	copy(out[idLen:], frame)
	return out
}

func decodeEnvelope(b []byte) (id [idLen]byte, frame []byte, ok bool) {
	if len(b) <= idLen {
		return id, nil, false
	}
	copy(id[:], b[:idLen])
	return id, append([]byte(nil), b[idLen:]...), true
}
