package subcar_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/ubersdr_subcar/subcar"
	"github.com/cwsl/ubersdr_subcar/subcar/subcartest"
)

type recorder struct {
	mu   sync.Mutex
	pkts []subcar.Packet
}

func (r *recorder) Emit(p subcar.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pkts = append(r.pkts, p)
}

func TestBankOrder(t *testing.T) {
	var bank = subcar.NewBank(nil)
	var ds = bank.Decoders()

	require.Len(t, ds, len(subcar.Protocols()))
	for i, id := range subcar.Protocols() {
		assert.Equal(t, id, ds[i].Protocol())
		assert.Same(t, ds[i], bank.Decoder(id))
	}
	assert.Nil(t, bank.Decoder(subcar.ProtoInvalid))
}

func TestBankEachTrainDecodesOnlyItsProtocol(t *testing.T) {
	for _, s := range subcartest.Samples() {
		var r recorder
		var bank = subcar.NewBank(&r)

		s.Train.FeedTo(bank)

		assert.Equal(t, []subcar.Packet{s.Packet}, r.pkts, s.Packet.Protocol.String())
	}
}

func TestBankBackToBackTrains(t *testing.T) {
	var r recorder
	var bank = subcar.NewBank(&r)

	var want []subcar.Packet
	var pulses int
	for _, s := range subcartest.Samples() {
		s.Train.FeedTo(bank)
		want = append(want, s.Packet)
		pulses += len(s.Train)
	}

	assert.Equal(t, want, r.pkts)

	var stats = bank.Stats()
	assert.Equal(t, uint64(pulses), stats.Pulses)
	require.Len(t, stats.Decoded, len(subcar.Protocols()))
	for _, id := range subcar.Protocols() {
		assert.Equal(t, uint64(1), stats.Decoded[id], id.String())
	}
}

func TestBankAmbiguousTrain(t *testing.T) {
	// Subaru and Kia V1 share the 1600 µs preamble; this burst fits both
	var b subcartest.Train
	var add = func(level bool, d uint32) {
		b = append(b, subcartest.Pulse{Level: level, Duration: d})
	}
	add(true, 1600)
	for i := 0; i < 11; i++ {
		add(false, 1600)
		add(true, 1600)
	}
	add(false, 2500)
	add(true, 2500)
	add(false, 1600)
	for i := 0; i < 7; i++ {
		add(true, 1600)
		if i < 6 {
			add(false, 1600)
		}
	}
	add(false, 800)
	add(true, 800)
	for i := 0; i < 56; i++ {
		add(false, 800)
		add(true, 800)
	}
	add(false, 4000)

	var r recorder
	b.FeedTo(subcar.NewBank(&r))

	assert.ElementsMatch(t, []subcar.Packet{
		{Protocol: subcar.ProtoSubaru, BitCount: 64, Data: 0x01FFFFFFFFFFFFFF},
		{Protocol: subcar.ProtoKiaV1, BitCount: 56, Data: 0xFFFFFFFFFFFFFF},
	}, r.pkts)
}

func TestBankReset(t *testing.T) {
	var r recorder
	var bank = subcar.NewBank(&r)
	var s = subcartest.Samples()[0]

	s.Train[:len(s.Train)-10].FeedTo(bank)
	bank.Reset()
	s.Train[len(s.Train)-10:].FeedTo(bank)

	assert.Empty(t, r.pkts)
	for _, d := range bank.Decoders() {
		assert.True(t, subcar.AtReset(d), d.Protocol().String())
	}
}

func TestBankIntoQueue(t *testing.T) {
	var q = subcar.NewPacketQueue(2)
	var bank = subcar.NewBank(q)

	for _, s := range subcartest.Samples()[:3] {
		s.Train.FeedTo(bank)
	}

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(2), q.Pushed())
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, subcar.ProtoSuzuki, (<-q.C()).Protocol)
	assert.Equal(t, subcar.ProtoVW, (<-q.C()).Protocol)
}
