package main

import (
	log "github.com/sirupsen/logrus"

	"go.universe.tf/nattable/flowtable"
)

type Verdict int

const (
	VerdictAccept Verdict = iota
	VerdictMangle
	VerdictDrop
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictMangle:
		return "mangle"
	case VerdictDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Translator rewrites packets according to a flow table. Packets get
// fed in, may be mutated, and the verdict dictates whether the packet
// makes it off the machine. It never adds mappings, only follows
// them.
type Translator struct {
	table *flowtable.Table
}

func NewTranslator(table *flowtable.Table) *Translator {
	return &Translator{
		table: table,
	}
}

// MangleOutbound translates a packet arriving from the LAN.
func (t *Translator) MangleOutbound(p *Packet) Verdict {
	internal := p.Flow()
	external, ok := t.table.GetExternal(internal)
	if !ok {
		log.Debugf("No mapping for outbound %s", internal)
		return VerdictDrop
	}
	if err := p.SetFlow(external); err != nil {
		log.Errorf("Rewriting outbound %s to %s: %s", internal, external, err)
		return VerdictDrop
	}
	return VerdictMangle
}

// MangleInbound translates a packet arriving from the WAN. The
// packet travels the reverse direction of an external flow, and is
// rewritten to the reverse of the matching internal flow.
func (t *Translator) MangleInbound(p *Packet) Verdict {
	external := p.Flow().Reverse()
	internal, ok := t.table.GetInternal(external)
	if !ok {
		log.Debugf("No mapping for inbound %s", external.Reverse())
		return VerdictDrop
	}
	if err := p.SetFlow(internal.Reverse()); err != nil {
		log.Errorf("Rewriting inbound %s to %s: %s", external.Reverse(), internal.Reverse(), err)
		return VerdictDrop
	}
	return VerdictMangle
}
