package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/ubersdr_subcar/ook"
	"github.com/cwsl/ubersdr_subcar/subcar"
)

// fakeToken completes immediately
type fakeToken struct {
	mqtt.Token
	err error
}

func (t fakeToken) Wait() bool   { return true }
func (t fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes; every other method of mqtt.Client is unused
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	messages     []published
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return fakeToken{err: c.err}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.disconnected = true
	c.mu.Unlock()
}

func (c *fakeClient) snapshot() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func (c *fakeClient) topics() []string {
	var out []string
	for _, m := range c.snapshot() {
		out = append(out, m.topic)
	}
	return out
}

func newTestPublisher(client mqtt.Client, metrics *PrometheusMetrics) *MQTTPublisher {
	cfg := &MQTTConfig{TopicPrefix: "garage", PublishInterval: 3600, QoS: 1, Retain: true}
	stats := func() ReceiverStats {
		return ReceiverStats{State: "idle", Frontend: ook.Stats{Samples: 1000, Pulses: 20}}
	}
	return newMQTTPublisher(client, cfg, metrics, stats, log.New(io.Discard))
}

func TestPacketTopic(t *testing.T) {
	mp := newTestPublisher(&fakeClient{}, nil)
	assert.Equal(t, "garage/kia_v3_v4", mp.PacketTopic(subcar.ProtoKiaV3V4))
	assert.Equal(t, "garage/ford_v0", mp.PacketTopic(subcar.ProtoFordV0))
	assert.Equal(t, "garage/vw", mp.PacketTopic(subcar.ProtoVW))
}

func TestPublisherSendsPacketsAndStats(t *testing.T) {
	client := &fakeClient{}
	metrics := newTestMetrics()
	mp := newTestPublisher(client, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	mp.StartPublisher(ctx)

	ev := PacketEvent{
		ID:     "b7c6",
		Time:   time.Unix(1700000000, 0).UTC(),
		Packet: subcar.Packet{Protocol: subcar.ProtoFordV0, BitCount: 64, Data: 0x4A5B6C7D8E9FA0B1, Data2: 0xBEEF},
	}
	mp.HandlePacket(ev)

	require.Eventually(t, func() bool {
		return len(client.topics()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	mp.Wait()

	var packetMsg, statsMsg *published
	for _, m := range client.snapshot() {
		m := m
		switch m.topic {
		case "garage/ford_v0":
			packetMsg = &m
		case "garage/stats":
			statsMsg = &m
		}
	}
	require.NotNil(t, packetMsg)
	require.NotNil(t, statsMsg)

	// packets are never retained, stats follow the config
	assert.False(t, packetMsg.retained)
	assert.Equal(t, byte(1), packetMsg.qos)
	assert.True(t, statsMsg.retained)

	var body struct {
		ID     string `json:"id"`
		Packet struct {
			Name    string `json:"name"`
			DataHex string `json:"data_hex"`
		} `json:"packet"`
	}
	require.NoError(t, json.Unmarshal(packetMsg.payload, &body))
	assert.Equal(t, "b7c6", body.ID)
	assert.Equal(t, "Ford V0", body.Packet.Name)
	assert.Equal(t, "4A5B6C7D8E9FA0B1", body.Packet.DataHex)

	var stats MetricPayload
	require.NoError(t, json.Unmarshal(statsMsg.payload, &stats))
	assert.Equal(t, 1000.0, stats.Metrics["subcar_samples_total"])
	assert.Equal(t, 20.0, stats.Metrics["subcar_pulses_total"])
	assert.Contains(t, stats.Metrics, "subcar_packets_total_protocol_ford_v0")
	assert.Equal(t, "idle", stats.Labels["state"])

	assert.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.disconnected
	}, time.Second, 10*time.Millisecond)
}

func TestPublisherBacklogDrops(t *testing.T) {
	metrics := newTestMetrics()
	mp := newTestPublisher(&fakeClient{}, metrics)

	// not started: nothing drains the backlog
	for i := 0; i < mqttPacketBuffer+5; i++ {
		mp.HandlePacket(PacketEvent{Packet: subcar.Packet{Protocol: subcar.ProtoVW}})
	}
	assert.Len(t, mp.packets, mqttPacketBuffer)
}

func TestPublishErrorsAreCounted(t *testing.T) {
	client := &fakeClient{err: assert.AnError}
	metrics := newTestMetrics()
	mp := newTestPublisher(client, metrics)

	mp.send("garage/vw", false, []byte("{}"))
	assert.Len(t, client.snapshot(), 1)

	families, err := metrics.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "subcar_mqtt_errors_total" {
			assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
			return
		}
	}
	t.Fatal("subcar_mqtt_errors_total not exported")
}

func TestLoadTLSConfigDisabled(t *testing.T) {
	cfg, err := loadTLSConfig(MQTTTLSConfig{})
	assert.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = loadTLSConfig(MQTTTLSConfig{Enabled: true, CACert: "/nonexistent/ca.pem"})
	assert.ErrorContains(t, err, "failed to read CA certificate")
}
