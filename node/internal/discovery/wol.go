package discovery

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// SendMagicPacket builds and broadcasts a Wake-on-LAN magic packet for mac on
// port. mac may use ':' or '-' as the byte separator.
func SendMagicPacket(mac string, port int) error {
	payload, err := magicPacket(mac)
	if err != nil {
		return err
	}

	conn, err := net.Dial("udp4", fmt.Sprintf("255.255.255.255:%d", port))
	if err != nil {
		return fmt.Errorf("discovery: dial broadcast: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("discovery: send magic packet: %w", err)
	}
	return nil
}

// magicPacket builds the 102-byte WOL payload: 6 bytes of 0xFF followed by
// the target MAC address repeated 16 times.
func magicPacket(mac string) ([]byte, error) {
	normalized := NormalizeMAC(mac)
	raw, err := hex.DecodeString(strings.ReplaceAll(normalized, ":", ""))
	if err != nil || len(raw) != 6 {
		return nil, fmt.Errorf("discovery: invalid mac address %q", mac)
	}

	packet := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, raw...)
	}
	return packet, nil
}

// NormalizeMAC upper-cases mac and converts '-' separators to ':'.
func NormalizeMAC(mac string) string {
	return strings.ToUpper(strings.ReplaceAll(mac, "-", ":"))
}
