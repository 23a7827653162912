// Kernel core for a small self-hosted i386 operating system
// https://github.com/kvisor/kernel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package net

// transProtoNumber maps a connection's transport-filter tag to the IPv4
// protocol field value carried on the wire.
func transProtoNumber(trans int) byte {
	switch trans {
	case TransUDP:
		return protoUDP
	case TransICMP:
		return protoICMP
	case TransTCP:
		return protoTCP
	default:
		return protoICMP
	}
}

// SendData implements the transmit pipeline of §4.g: prepend the
// transport header (UDP, or none when the caller already built one, as
// ICMP echo packets do), then the IPv4 header (id from the connection's
// counter, TTL=64, checksum last), then the link header (Ethernet, with
// the destination MAC resolved via ARP, or omitted for loopback). If
// immediate, the frame is handed to the driver synchronously; otherwise
// it is queued for the network thread's round-robin send.
func SendData(conn *Connection, payload []byte, immediate bool) error {
	dev := conn.Device

	var segment []byte
	if conn.Filter.HasTrans && conn.Filter.TransProto == TransUDP {
		segment = buildUDP(conn.LocalPort, conn.RemotePort, dev.HostIP, conn.RemoteIP, payload)
	} else {
		segment = payload
	}

	ipHeader := buildIPv4(dev.HostIP, conn.RemoteIP, transProtoNumber(conn.Filter.TransProto), conn.NextIPID(), len(segment))
	packet := append(append([]byte{}, ipHeader...), segment...)

	var frame []byte
	if dev.Loopback {
		frame = packet
	} else {
		dstMAC := broadcastMAC
		if conn.RemoteIP != dev.BroadcastIP {
			mac, err := Resolve(dev, conn.RemoteIP)
			if err != nil {
				return err
			}
			dstMAC = mac
		}
		frame = append(encodeEthernet(dstMAC, dev.MAC, etherTypeIPv4), packet...)
	}

	if immediate {
		return dev.Send(frame)
	}
	dev.QueueOutput(frame)
	return nil
}
