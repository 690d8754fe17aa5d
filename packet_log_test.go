package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwsl/ubersdr_subcar/subcar"
)

func TestPacketLogWritesCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	cfg := PacketLogConfig{Enabled: true, Directory: dir, FilenamePattern: "SubCarLOG_%Y%m%d_%H%M%S.CSV"}
	at := time.Date(2024, 3, 9, 17, 4, 5, 0, time.UTC)

	pl, err := OpenPacketLog(cfg, at, newTestMetrics(), log.New(io.Discard))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "SubCarLOG_20240309_170405.CSV"), pl.Path())

	pl.HandlePacket(PacketEvent{Packet: subcar.Packet{Protocol: subcar.ProtoFordV0, BitCount: 64, Data: 0x4A5B6C7D8E9FA0B1, Data2: 0xBEEF}})
	pl.HandlePacket(PacketEvent{Packet: subcar.Packet{Protocol: subcar.ProtoKiaV2, BitCount: 51, Data: 0x6D5A3C96E1D2B}})
	require.NoError(t, pl.Close())

	// writes after close are ignored
	pl.HandlePacket(PacketEvent{Packet: subcar.Packet{Protocol: subcar.ProtoVW}})

	data, err := os.ReadFile(pl.Path())
	require.NoError(t, err)
	assert.Equal(t,
		";Type; Bits; Data;\n"+
			";Ford V0;64;4A5B6C7D8E9FA0B1;000000000000BEEF\n"+
			";Kia V2;51;0006D5A3C96E1D2B;0000000000000000\n",
		string(data))
}

func TestPacketLogReopenKeepsOneHeader(t *testing.T) {
	cfg := PacketLogConfig{Directory: t.TempDir(), FilenamePattern: "fixed.CSV"}
	for i := 0; i < 2; i++ {
		pl, err := OpenPacketLog(cfg, time.Now(), nil, log.New(io.Discard))
		require.NoError(t, err)
		pl.HandlePacket(PacketEvent{Packet: subcar.Packet{Protocol: subcar.ProtoVW, BitCount: 80}})
		require.NoError(t, pl.Close())
	}

	data, err := os.ReadFile(filepath.Join(cfg.Directory, "fixed.CSV"))
	require.NoError(t, err)
	assert.Equal(t, ";Type; Bits; Data;\n;VW;80;0000000000000000;0000000000000000\n;VW;80;0000000000000000;0000000000000000\n", string(data))
}
