package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

func TestDispatcherFansOutInOrder(t *testing.T) {
	queue := subcar.NewPacketQueue(8)
	var first, second []PacketEvent
	d := NewDispatcher(queue, quiet, PacketHandlerFunc(func(ev PacketEvent) { first = append(first, ev) }))
	d.Add(PacketHandlerFunc(func(ev PacketEvent) { second = append(second, ev) }))
	fixed := time.Unix(1700000000, 0)
	d.now = func() time.Time { return fixed }

	sent := []subcar.Packet{
		{Protocol: subcar.ProtoKiaV1, BitCount: 56, Data: 0xA1B2C3D4E5F607},
		{Protocol: subcar.ProtoFiatV0, BitCount: 64, Data: 0x3C5A96E10F1E2D4B, Data2: 0x55},
	}
	for _, p := range sent {
		require.True(t, queue.TryPush(p))
	}
	queue.Close()

	d.Run()

	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	for i, ev := range first {
		assert.Equal(t, sent[i], ev.Packet)
		assert.Equal(t, fixed, ev.Time)
		_, err := uuid.Parse(ev.ID)
		assert.NoError(t, err)
	}
	assert.NotEqual(t, first[0].ID, first[1].ID)
}
