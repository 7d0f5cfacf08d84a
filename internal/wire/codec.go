package wire

// Packet is a fully decoded wire packet: header plus whichever typed body
// corresponds to Header.Type. Exactly one of the body fields is set for
// control types; for TypeData, Payload holds the raw bytes.
type Packet struct {
	Header         Header
	Payload        []byte // TypeData
	Ack            Ack
	Nack           Nack
	Ping           Ping
	Pong           Pong
	Session        Session
	LinkReport     LinkReport
	BitrateCmd     BitrateCmd
	FecRepair      FecRepair
	ReceiverReport ReceiverReport
}

// EncodeData serializes a Data packet: header followed by the raw payload.
func EncodeData(buf []byte, seq uint64, ts uint32, frag FragmentKind, isKeyframe, isConfig bool, payload []byte) []byte {
	h := Header{
		Version:       ProtocolVersion,
		Type:          TypeData,
		Fragment:      frag,
		IsKeyframe:    isKeyframe,
		IsConfig:      isConfig,
		PayloadLen:    uint16(len(payload)),
		Sequence:      seq,
		Timestampus32: ts,
	}
	buf = AppendHeader(buf, h)
	return append(buf, payload...)
}

// EncodeControl serializes a header plus the already-serialized typed body.
func EncodeControl(buf []byte, typ PacketType, seq uint64, ts uint32, body []byte) []byte {
	h := Header{
		Version:       ProtocolVersion,
		Type:          typ,
		PayloadLen:    uint16(len(body)),
		Sequence:      seq,
		Timestampus32: ts,
	}
	buf = AppendHeader(buf, h)
	return append(buf, body...)
}

// Decode parses a full wire packet (header + typed body). It never panics
// on arbitrary input; every failure path returns ErrMalformed.
func Decode(buf []byte) (Packet, error) {
	h, n, err := DecodeHeader(buf)
	if err != nil {
		return Packet{}, err
	}
	rest := buf[n:]
	if len(rest) < int(h.PayloadLen) {
		return Packet{}, ErrMalformed
	}
	body := rest[:h.PayloadLen]

	p := Packet{Header: h}
	switch h.Type {
	case TypeData:
		// Retain a copy: the caller's receive buffer is typically reused.
		p.Payload = append([]byte(nil), body...)
	case TypeAck:
		p.Ack, err = DecodeAck(body)
	case TypeNack:
		p.Nack, err = DecodeNack(body)
	case TypePing:
		p.Ping, err = DecodePing(body)
	case TypePong:
		p.Pong, err = DecodePong(body)
	case TypeSession:
		p.Session, err = DecodeSession(body)
	case TypeLinkReport:
		p.LinkReport, err = DecodeLinkReport(body)
	case TypeBitrateCmd:
		p.BitrateCmd, err = DecodeBitrateCmd(body)
	case TypeFecRepair:
		p.FecRepair, err = DecodeFecRepair(body)
	case TypeReceiverReport:
		p.ReceiverReport, err = DecodeReceiverReport(body)
	default:
		return Packet{}, ErrMalformed
	}
	if err != nil {
		return Packet{}, err
	}
	return p, nil
}
