package main

import (
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"go.universe.tf/nattable/flowtable"
)

var (
	lanFlow = flowOf(layers.IPProtocolTCP, "10.0.0.1:1337", "10.0.0.2:2000")
	wanFlow = flowOf(layers.IPProtocolTCP, "172.168.0.1:420", "8.8.8.8:9593")

	lanPing = flowOf(layers.IPProtocolICMPv4, "10.0.0.1", "8.8.8.8")
	wanPing = flowOf(layers.IPProtocolICMPv4, "172.168.0.1", "8.8.8.8")
)

func newTestTranslator(t *testing.T) *Translator {
	table := flowtable.New()
	require.NoError(t, table.Insert(lanFlow, wanFlow))
	require.NoError(t, table.Insert(lanPing, wanPing))
	return NewTranslator(table)
}

func TestTranslatorOutbound(t *testing.T) {
	tr := newTestTranslator(t)

	for _, m := range []flowtable.Mapping{{Internal: lanFlow, External: wanFlow}, {Internal: lanPing, External: wanPing}} {
		p := NewPacket(buildPacket(t, m.Internal))
		require.Equal(t, VerdictMangle, tr.MangleOutbound(p))
		require.Equal(t, buildPacket(t, m.External), p.Bytes())
	}
}

func TestTranslatorInbound(t *testing.T) {
	tr := newTestTranslator(t)

	for _, m := range []flowtable.Mapping{{Internal: lanFlow, External: wanFlow}, {Internal: lanPing, External: wanPing}} {
		// Replies travel the reverse direction on both sides.
		p := NewPacket(buildPacket(t, m.External.Reverse()))
		require.Equal(t, VerdictMangle, tr.MangleInbound(p))
		require.Equal(t, buildPacket(t, m.Internal.Reverse()), p.Bytes())
	}
}

func TestTranslatorDropsUnknownFlows(t *testing.T) {
	tr := newTestTranslator(t)

	tests := []struct {
		name     string
		flow     flowtable.Flow
		outbound bool
	}{
		{"unmapped outbound", flowOf(layers.IPProtocolTCP, "10.0.0.9:1337", "10.0.0.2:2000"), true},
		{"unmapped inbound", flowOf(layers.IPProtocolTCP, "8.8.8.8:9593", "172.168.0.1:421"), false},
		{"external flow sent outbound", wanFlow, true},
		{"external flow not reversed", wanFlow, false},
		{"wrong protocol", flowOf(layers.IPProtocolUDP, "10.0.0.1:1337", "10.0.0.2:2000"), true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			orig := buildPacket(t, test.flow)
			p := NewPacket(orig)
			require.NotNil(t, p)

			var verdict Verdict
			if test.outbound {
				verdict = tr.MangleOutbound(p)
			} else {
				verdict = tr.MangleInbound(p)
			}
			require.Equal(t, VerdictDrop, verdict)
			require.Equal(t, orig, p.Bytes())
		})
	}
}

func TestTranslatorFollowsTableChanges(t *testing.T) {
	table := flowtable.New()
	tr := NewTranslator(table)

	require.Equal(t, VerdictDrop, tr.MangleOutbound(NewPacket(buildPacket(t, lanFlow))))

	require.NoError(t, table.Insert(lanFlow, wanFlow))
	p := NewPacket(buildPacket(t, lanFlow))
	require.Equal(t, VerdictMangle, tr.MangleOutbound(p))
	require.Equal(t, buildPacket(t, wanFlow), p.Bytes())

	moved := flowOf(layers.IPProtocolTCP, "172.168.0.1:999", "8.8.8.8:9593")
	table.InsertOverwrite(lanFlow, moved)
	p = NewPacket(buildPacket(t, lanFlow))
	require.Equal(t, VerdictMangle, tr.MangleOutbound(p))
	require.Equal(t, buildPacket(t, moved), p.Bytes())
	// Replies to the old external flow no longer get in.
	require.Equal(t, VerdictDrop, tr.MangleInbound(NewPacket(buildPacket(t, wanFlow.Reverse()))))

	table.RemoveByInternal(lanFlow)
	require.Equal(t, VerdictDrop, tr.MangleOutbound(NewPacket(buildPacket(t, lanFlow))))
}

func TestVerdictString(t *testing.T) {
	require.Equal(t, "accept", VerdictAccept.String())
	require.Equal(t, "mangle", VerdictMangle.String())
	require.Equal(t, "drop", VerdictDrop.String())
	require.Equal(t, "unknown", Verdict(42).String())
}
