package client

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// flowHash hashes the IP endpoints, plus the ports when the transport layer
// decodes. The hash is symmetric, so both directions of a flow agree. ok is
// false for anything that is not an IPv4 or IPv6 packet.
func flowHash(packet []byte) (uint64, bool) {
	if len(packet) == 0 {
		return 0, false
	}
	var first gopacket.LayerType
	switch packet[0] >> 4 {
	case 4:
		first = layers.LayerTypeIPv4
	case 6:
		first = layers.LayerTypeIPv6
	default:
		return 0, false
	}

	p := gopacket.NewPacket(packet, first, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	network := p.NetworkLayer()
	if network == nil {
		return 0, false
	}
	h := network.NetworkFlow().FastHash()
	if transport := p.TransportLayer(); transport != nil {
		h ^= transport.TransportFlow().FastHash() * 0x9e3779b97f4a7c15
	}
	return h, true
}
