package wire

import "math"

// Ack is the typed body of a TypeAck packet: a cumulative sequence plus a
// 64-bit selective-ack bitmap covering the 64 sequences above it (bit i
// set means CumulativeSeq+1+i was received).
type Ack struct {
	CumulativeSeq uint64
	SackBitmap    uint64
}

// Append serializes a onto buf.
func (a Ack) Append(buf []byte) []byte {
	buf = AppendVarInt(buf, a.CumulativeSeq)
	return appendU64(buf, a.SackBitmap)
}

// DecodeAck parses an Ack body.
func DecodeAck(buf []byte) (Ack, error) {
	seq, n, err := ReadVarInt(buf)
	if err != nil {
		return Ack{}, err
	}
	buf = buf[n:]
	bitmap, err := readU64(buf)
	if err != nil {
		return Ack{}, err
	}
	return Ack{CumulativeSeq: seq, SackBitmap: bitmap}, nil
}

// NackRange is one (start, count) gap the receiver wants retransmitted.
type NackRange struct {
	Start uint64
	Count uint64
}

// Nack is the typed body of a TypeNack packet: a list of gap ranges.
type Nack struct {
	Ranges []NackRange
}

// Append serializes n onto buf. The range count is itself a VarInt.
func (n Nack) Append(buf []byte) []byte {
	buf = AppendVarInt(buf, uint64(len(n.Ranges)))
	for _, r := range n.Ranges {
		buf = AppendVarInt(buf, r.Start)
		buf = AppendVarInt(buf, r.Count)
	}
	return buf
}

// DecodeNack parses a Nack body.
func DecodeNack(buf []byte) (Nack, error) {
	count, n, err := ReadVarInt(buf)
	if err != nil {
		return Nack{}, err
	}
	buf = buf[n:]
	// Bound the range count to the remaining buffer so a corrupt huge
	// count can't cause an unbounded allocation.
	if count > uint64(len(buf)) {
		return Nack{}, ErrMalformed
	}
	ranges := make([]NackRange, 0, count)
	for i := uint64(0); i < count; i++ {
		start, sn, err := ReadVarInt(buf)
		if err != nil {
			return Nack{}, err
		}
		buf = buf[sn:]
		cnt, cn, err := ReadVarInt(buf)
		if err != nil {
			return Nack{}, err
		}
		buf = buf[cn:]
		ranges = append(ranges, NackRange{Start: start, Count: cnt})
	}
	return Nack{Ranges: ranges}, nil
}

// Ping is the typed body of a TypePing packet.
type Ping struct {
	OriginTimestampUs uint64
	PingID            uint32
}

func (p Ping) Append(buf []byte) []byte {
	buf = appendU64(buf, p.OriginTimestampUs)
	return appendU32(buf, p.PingID)
}

func DecodePing(buf []byte) (Ping, error) {
	ts, err := readU64(buf)
	if err != nil {
		return Ping{}, err
	}
	id, err := readU32(buf[8:])
	if err != nil {
		return Ping{}, err
	}
	return Ping{OriginTimestampUs: ts, PingID: id}, nil
}

// Pong is the typed body of a TypePong packet; it echoes the ping and adds
// the receive timestamp, enabling RTT and one-way-delay estimation.
type Pong struct {
	OriginTimestampUs  uint64
	PingID             uint32
	ReceiveTimestampUs uint64
}

func (p Pong) Append(buf []byte) []byte {
	buf = appendU64(buf, p.OriginTimestampUs)
	buf = appendU32(buf, p.PingID)
	return appendU64(buf, p.ReceiveTimestampUs)
}

func DecodePong(buf []byte) (Pong, error) {
	if len(buf) < 8+4+8 {
		return Pong{}, ErrMalformed
	}
	origin, _ := readU64(buf)
	pid, _ := readU32(buf[8:])
	recv, _ := readU64(buf[12:])
	return Pong{OriginTimestampUs: origin, PingID: pid, ReceiveTimestampUs: recv}, nil
}

// SessionKind enumerates session control messages.
type SessionKind uint8

const (
	SessionHello SessionKind = iota
	SessionAccept
	SessionTeardown
	SessionLinkJoin
	SessionLinkLeave
)

// Session is the typed body of a TypeSession packet.
type Session struct {
	Kind      SessionKind
	SessionID uint64
	LinkID    *uint16 // optional
}

func (s Session) Append(buf []byte) []byte {
	buf = append(buf, byte(s.Kind))
	buf = appendU64(buf, s.SessionID)
	if s.LinkID != nil {
		buf = append(buf, 1)
		buf = appendU16(buf, *s.LinkID)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func DecodeSession(buf []byte) (Session, error) {
	if len(buf) < 1+8+1 {
		return Session{}, ErrMalformed
	}
	kind := SessionKind(buf[0])
	sid, _ := readU64(buf[1:])
	hasLink := buf[9]
	s := Session{Kind: kind, SessionID: sid}
	if hasLink != 0 {
		if len(buf) < 12 {
			return Session{}, ErrMalformed
		}
		lid, _ := readU16(buf[10:])
		s.LinkID = &lid
	}
	return s, nil
}

// LinkReport is the typed body of a TypeLinkReport packet, carrying a
// link's observed radio/transport quality from receiver to sender.
type LinkReport struct {
	LinkID          uint16
	RttUs           uint32
	LossRatePermille uint16
	CapacityKbps    uint32
	SinrDb10        int16
}

func (r LinkReport) Append(buf []byte) []byte {
	buf = appendU16(buf, r.LinkID)
	buf = appendU32(buf, r.RttUs)
	buf = appendU16(buf, r.LossRatePermille)
	buf = appendU32(buf, r.CapacityKbps)
	return appendU16(buf, uint16(r.SinrDb10))
}

func DecodeLinkReport(buf []byte) (LinkReport, error) {
	if len(buf) < 2+4+2+4+2 {
		return LinkReport{}, ErrMalformed
	}
	lid, _ := readU16(buf)
	rtt, _ := readU32(buf[2:])
	loss, _ := readU16(buf[6:])
	cap, _ := readU32(buf[8:])
	sinr, _ := readU16(buf[12:])
	return LinkReport{
		LinkID:           lid,
		RttUs:            rtt,
		LossRatePermille: loss,
		CapacityKbps:     cap,
		SinrDb10:         int16(sinr),
	}, nil
}

// BitrateReason enumerates why a BitrateCmd was issued.
type BitrateReason uint8

const (
	ReasonCapacity BitrateReason = iota
	ReasonCongestion
	ReasonLinkFailure
	ReasonRecovery
)

// BitrateCmd is the typed body of a TypeBitrateCmd packet.
type BitrateCmd struct {
	TargetKbps uint32
	Reason     BitrateReason
}

func (b BitrateCmd) Append(buf []byte) []byte {
	buf = appendU32(buf, b.TargetKbps)
	return append(buf, byte(b.Reason))
}

func DecodeBitrateCmd(buf []byte) (BitrateCmd, error) {
	if len(buf) < 5 {
		return BitrateCmd{}, ErrMalformed
	}
	kbps, _ := readU32(buf)
	return BitrateCmd{TargetKbps: kbps, Reason: BitrateReason(buf[4])}, nil
}

// FecRepair is the typed body of a TypeFecRepair packet: a repair symbol
// carrying its generation, coefficient vector, and encoded data.
type FecRepair struct {
	GenerationID uint16
	SymbolIndex  uint16
	K            uint16
	R            uint16
	Coefficients []byte // length K, one GF(2^8) element per source symbol
	Data         []byte
}

func (f FecRepair) Append(buf []byte) []byte {
	buf = appendU16(buf, f.GenerationID)
	buf = appendU16(buf, f.SymbolIndex)
	buf = appendU16(buf, f.K)
	buf = appendU16(buf, f.R)
	buf = AppendVarInt(buf, uint64(len(f.Coefficients)))
	buf = append(buf, f.Coefficients...)
	buf = AppendVarInt(buf, uint64(len(f.Data)))
	buf = append(buf, f.Data...)
	return buf
}

func DecodeFecRepair(buf []byte) (FecRepair, error) {
	if len(buf) < 8 {
		return FecRepair{}, ErrMalformed
	}
	gen, _ := readU16(buf)
	idx, _ := readU16(buf[2:])
	k, _ := readU16(buf[4:])
	r, _ := readU16(buf[6:])
	buf = buf[8:]

	coefLen, n, err := ReadVarInt(buf)
	if err != nil || coefLen > uint64(len(buf)) {
		return FecRepair{}, ErrMalformed
	}
	buf = buf[n:]
	coefs := make([]byte, coefLen)
	copy(coefs, buf[:coefLen])
	buf = buf[coefLen:]

	dataLen, n2, err := ReadVarInt(buf)
	if err != nil || dataLen > uint64(len(buf)) {
		return FecRepair{}, ErrMalformed
	}
	buf = buf[n2:]
	data := make([]byte, dataLen)
	copy(data, buf[:dataLen])

	return FecRepair{
		GenerationID: gen,
		SymbolIndex:  idx,
		K:            k,
		R:            r,
		Coefficients: coefs,
		Data:         data,
	}, nil
}

// ReceiverReport is the typed body of a TypeReceiverReport packet:
// aggregate quality-of-delivery metrics for observability (spec.md §4.10).
type ReceiverReport struct {
	GoodputBps     uint64
	FecRepairRate  float32
	JitterBufferMs uint32
	LossAfterFec   float32
}

func (r ReceiverReport) Append(buf []byte) []byte {
	buf = appendU64(buf, r.GoodputBps)
	buf = appendU32(buf, math.Float32bits(r.FecRepairRate))
	buf = appendU32(buf, r.JitterBufferMs)
	return appendU32(buf, math.Float32bits(r.LossAfterFec))
}

func DecodeReceiverReport(buf []byte) (ReceiverReport, error) {
	if len(buf) < 8+4+4+4 {
		return ReceiverReport{}, ErrMalformed
	}
	goodput, _ := readU64(buf)
	fecBits, _ := readU32(buf[8:])
	jbuf, _ := readU32(buf[12:])
	lossBits, _ := readU32(buf[16:])
	return ReceiverReport{
		GoodputBps:     goodput,
		FecRepairRate:  math.Float32frombits(fecBits),
		JitterBufferMs: jbuf,
		LossAfterFec:   math.Float32frombits(lossBits),
	}, nil
}

// --- small fixed-width helpers shared by the bodies above ---

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendU64(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readU16(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, ErrMalformed
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

func readU32(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, ErrMalformed
	}
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}

func readU64(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, ErrMalformed
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}
