package memory

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	srcIP  = net.IPv4(10, 0, 0, 1)
	dstIP  = net.IPv4(10, 0, 0, 2)
)

// SyntheticPort is the UDP destination port of synthetic frames.
const SyntheticPort = 9000

// SyntheticFrame builds an Ethernet/IPv4/UDP frame whose 8-byte payload
// is idx in big-endian order.
func SyntheticFrame(idx uint64) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    dstIP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(40000 + idx%1000),
		DstPort: SyntheticPort,
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, idx)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SyntheticIndex decodes the index carried by a frame built with
// SyntheticFrame. Returns false for any other frame.
func SyntheticIndex(data []byte) (uint64, bool) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	udpLayer, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || udpLayer.DstPort != SyntheticPort {
		return 0, false
	}
	if len(udpLayer.Payload) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(udpLayer.Payload), true
}
