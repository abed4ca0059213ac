package wire

import "fmt"

// Magic is the 4-byte frame magic, spelling "RACE" (spec.md §6):
// 0x52414345.
const Magic uint32 = 0x52414345

// MsgType identifies the type-specific body that follows the frame
// header.
type MsgType uint16

const (
	MsgClientRequest MsgType = iota + 1
	MsgServerAccept
	MsgServerReject
	MsgData
	MsgStop
)

// PayloadType distinguishes the two DATA body shapes spec.md §4.C
// defines.
type PayloadType uint16

const (
	PayloadTrackMsg PayloadType = iota + 1
	PayloadProximityMsg
)

// ClientFlags are the CLIENT_REQUEST flag bits (spec.md §4.C); the
// core treats them opaquely beyond DataReceiver, which selects
// whether the server should begin a periodic DATA dispatch loop for
// this client.
type ClientFlags uint32

const ClientFlagDataReceiver ClientFlags = 1 << 0

// ProtocolError is spec.md §7's ProtocolError: wire-framing mismatch,
// unknown message type, or truncated frame. It is fatal for the
// message but never for the connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "wire: protocol error: " + e.Reason }

// ClientRequest is the CLIENT_REQUEST message body.
type ClientRequest struct {
	Flags           ClientFlags
	Schema          string
	RequestedSimMs  int64
	RequestedIntMs  int64
}

// WriteClientRequest writes the full frame (header + body) at pos.
func WriteClientRequest(d *DataBuf, pos int, r ClientRequest) (int, error) {
	pos, err := writeHeader(d, pos, MsgClientRequest)
	if err != nil {
		return pos, err
	}
	if pos, err = d.WriteInt(pos, int32(r.Flags)); err != nil {
		return pos, err
	}
	if pos, err = d.WriteString(pos, r.Schema); err != nil {
		return pos, err
	}
	if pos, err = d.WriteLong(pos, r.RequestedSimMs); err != nil {
		return pos, err
	}
	return d.WriteInt(pos, int32(r.RequestedIntMs))
}

// IsClientRequest reports whether the frame at pos is a
// CLIENT_REQUEST, without consuming it.
func IsClientRequest(d *DataBuf, pos int) bool {
	t, ok := peekType(d, pos)
	return ok && t == MsgClientRequest
}

// ReadClientRequest is WriteClientRequest's inverse.
func ReadClientRequest(d *DataBuf, pos int) (ClientRequest, int, error) {
	var r ClientRequest
	pos, err := readHeaderExpect(d, pos, MsgClientRequest)
	if err != nil {
		return r, pos, err
	}
	flags, pos, err := d.ReadInt(pos)
	if err != nil {
		return r, pos, err
	}
	r.Flags = ClientFlags(flags)
	if r.Schema, pos, err = d.ReadString(pos); err != nil {
		return r, pos, err
	}
	if r.RequestedSimMs, pos, err = d.ReadLong(pos); err != nil {
		return r, pos, err
	}
	interval, pos, err := d.ReadInt(pos)
	if err != nil {
		return r, pos, err
	}
	r.RequestedIntMs = int64(interval)
	return r, pos, nil
}

// ServerAccept is the SERVER_ACCEPT message body.
type ServerAccept struct {
	ServerFlags    uint32
	SimMs          int64
	EffectiveIntMs int64
	ClientID       uint32
}

func WriteServerAccept(d *DataBuf, pos int, a ServerAccept) (int, error) {
	pos, err := writeHeader(d, pos, MsgServerAccept)
	if err != nil {
		return pos, err
	}
	if pos, err = d.WriteInt(pos, int32(a.ServerFlags)); err != nil {
		return pos, err
	}
	if pos, err = d.WriteLong(pos, a.SimMs); err != nil {
		return pos, err
	}
	if pos, err = d.WriteInt(pos, int32(a.EffectiveIntMs)); err != nil {
		return pos, err
	}
	return d.WriteInt(pos, int32(a.ClientID))
}

func IsServerAccept(d *DataBuf, pos int) bool {
	t, ok := peekType(d, pos)
	return ok && t == MsgServerAccept
}

func ReadServerAccept(d *DataBuf, pos int) (ServerAccept, int, error) {
	var a ServerAccept
	pos, err := readHeaderExpect(d, pos, MsgServerAccept)
	if err != nil {
		return a, pos, err
	}
	flags, pos, err := d.ReadInt(pos)
	if err != nil {
		return a, pos, err
	}
	a.ServerFlags = uint32(flags)
	if a.SimMs, pos, err = d.ReadLong(pos); err != nil {
		return a, pos, err
	}
	interval, pos, err := d.ReadInt(pos)
	if err != nil {
		return a, pos, err
	}
	a.EffectiveIntMs = int64(interval)
	id, pos, err := d.ReadInt(pos)
	if err != nil {
		return a, pos, err
	}
	a.ClientID = uint32(id)
	return a, pos, nil
}

// ServerReject is the SERVER_REJECT message body.
type ServerReject struct {
	Reason int32
}

func WriteServerReject(d *DataBuf, pos int, r ServerReject) (int, error) {
	pos, err := writeHeader(d, pos, MsgServerReject)
	if err != nil {
		return pos, err
	}
	return d.WriteInt(pos, r.Reason)
}

func IsServerReject(d *DataBuf, pos int) bool {
	t, ok := peekType(d, pos)
	return ok && t == MsgServerReject
}

func ReadServerReject(d *DataBuf, pos int) (ServerReject, int, error) {
	var r ServerReject
	pos, err := readHeaderExpect(d, pos, MsgServerReject)
	if err != nil {
		return r, pos, err
	}
	reason, pos, err := d.ReadInt(pos)
	r.Reason = reason
	return r, pos, err
}

// Stop is the STOP message; it carries no body beyond the frame.
func WriteStop(d *DataBuf, pos int) (int, error) {
	return writeHeader(d, pos, MsgStop)
}

func IsStop(d *DataBuf, pos int) bool {
	t, ok := peekType(d, pos)
	return ok && t == MsgStop
}

func ReadStop(d *DataBuf, pos int) (int, error) {
	return readHeaderExpect(d, pos, MsgStop)
}

// TrackRecord is one aircraft track update, per spec.md §4.C.
type TrackRecord struct {
	ID           string
	MsgOrd       int32
	Flags        int32
	TimeMs       int64
	LatDeg       float64
	LonDeg       float64
	AltM         float64
	HeadingDeg   float64
	SpeedMS      float64
	VerticalRate float64
}

func writeTrackRecord(d *DataBuf, pos int, t TrackRecord) (int, error) {
	pos, err := d.WriteString(pos, t.ID)
	if err != nil {
		return pos, err
	}
	if pos, err = d.WriteInt(pos, t.MsgOrd); err != nil {
		return pos, err
	}
	if pos, err = d.WriteInt(pos, t.Flags); err != nil {
		return pos, err
	}
	if pos, err = d.WriteLong(pos, t.TimeMs); err != nil {
		return pos, err
	}
	for _, v := range []float64{t.LatDeg, t.LonDeg, t.AltM, t.HeadingDeg, t.SpeedMS, t.VerticalRate} {
		if pos, err = d.WriteDouble(pos, v); err != nil {
			return pos, err
		}
	}
	return pos, nil
}

func readTrackRecord(d *DataBuf, pos int) (TrackRecord, int, error) {
	var t TrackRecord
	var err error
	if t.ID, pos, err = d.ReadString(pos); err != nil {
		return t, pos, err
	}
	if t.MsgOrd, pos, err = d.ReadInt(pos); err != nil {
		return t, pos, err
	}
	if t.Flags, pos, err = d.ReadInt(pos); err != nil {
		return t, pos, err
	}
	if t.TimeMs, pos, err = d.ReadLong(pos); err != nil {
		return t, pos, err
	}
	vals := make([]*float64, 0, 6)
	vals = append(vals, &t.LatDeg, &t.LonDeg, &t.AltM, &t.HeadingDeg, &t.SpeedMS, &t.VerticalRate)
	for _, v := range vals {
		if *v, pos, err = d.ReadDouble(pos); err != nil {
			return t, pos, err
		}
	}
	return t, pos, nil
}

// ProximityPair is one reference+target distance record of a
// PROXIMITY_MSG body. Per spec.md §9 Open Question (c), this writer
// is authoritative for the body layout.
type ProximityPair struct {
	ReferenceID string
	TargetID    string
	DistanceM   float64
	Flags       int32
}

// Data is a DATA message: sender, send time, and a typed payload.
type Data struct {
	SenderID   uint32
	SendTimeMs int64
	Payload    PayloadType
	Tracks     []TrackRecord    // valid when Payload == PayloadTrackMsg
	Proximity  []ProximityPair // valid when Payload == PayloadProximityMsg
}

func WriteData(d *DataBuf, pos int, msg Data) (int, error) {
	pos, err := writeHeader(d, pos, MsgData)
	if err != nil {
		return pos, err
	}
	if pos, err = d.WriteInt(pos, int32(msg.SenderID)); err != nil {
		return pos, err
	}
	if pos, err = d.WriteLong(pos, msg.SendTimeMs); err != nil {
		return pos, err
	}
	if pos, err = d.WriteShort(pos, int16(msg.Payload)); err != nil {
		return pos, err
	}

	switch msg.Payload {
	case PayloadTrackMsg:
		if pos, err = d.WriteInt(pos, int32(len(msg.Tracks))); err != nil {
			return pos, err
		}
		for _, t := range msg.Tracks {
			if pos, err = writeTrackRecord(d, pos, t); err != nil {
				return pos, err
			}
		}
	case PayloadProximityMsg:
		if pos, err = d.WriteInt(pos, int32(len(msg.Proximity))); err != nil {
			return pos, err
		}
		for _, p := range msg.Proximity {
			if pos, err = d.WriteString(pos, p.ReferenceID); err != nil {
				return pos, err
			}
			if pos, err = d.WriteString(pos, p.TargetID); err != nil {
				return pos, err
			}
			if pos, err = d.WriteDouble(pos, p.DistanceM); err != nil {
				return pos, err
			}
			if pos, err = d.WriteInt(pos, p.Flags); err != nil {
				return pos, err
			}
		}
	default:
		return pos, &ProtocolError{Reason: fmt.Sprintf("unknown payload type %d", msg.Payload)}
	}
	return pos, nil
}

func IsData(d *DataBuf, pos int) bool {
	t, ok := peekType(d, pos)
	return ok && t == MsgData
}

func ReadData(d *DataBuf, pos int) (Data, int, error) {
	var msg Data
	pos, err := readHeaderExpect(d, pos, MsgData)
	if err != nil {
		return msg, pos, err
	}
	sender, pos, err := d.ReadInt(pos)
	if err != nil {
		return msg, pos, err
	}
	msg.SenderID = uint32(sender)
	if msg.SendTimeMs, pos, err = d.ReadLong(pos); err != nil {
		return msg, pos, err
	}
	pt, pos, err := d.ReadShort(pos)
	if err != nil {
		return msg, pos, err
	}
	msg.Payload = PayloadType(pt)

	count, pos, err := d.ReadInt(pos)
	if err != nil {
		return msg, pos, err
	}

	switch msg.Payload {
	case PayloadTrackMsg:
		msg.Tracks = make([]TrackRecord, count)
		for i := range msg.Tracks {
			if msg.Tracks[i], pos, err = readTrackRecord(d, pos); err != nil {
				return msg, pos, err
			}
		}
	case PayloadProximityMsg:
		msg.Proximity = make([]ProximityPair, count)
		for i := range msg.Proximity {
			p := &msg.Proximity[i]
			if p.ReferenceID, pos, err = d.ReadString(pos); err != nil {
				return msg, pos, err
			}
			if p.TargetID, pos, err = d.ReadString(pos); err != nil {
				return msg, pos, err
			}
			if p.DistanceM, pos, err = d.ReadDouble(pos); err != nil {
				return msg, pos, err
			}
			if p.Flags, pos, err = d.ReadInt(pos); err != nil {
				return msg, pos, err
			}
		}
	default:
		return msg, pos, &ProtocolError{Reason: fmt.Sprintf("unknown payload type %d", msg.Payload)}
	}
	return msg, pos, nil
}

func writeHeader(d *DataBuf, pos int, t MsgType) (int, error) {
	pos, err := d.WriteInt(pos, int32(Magic))
	if err != nil {
		return pos, err
	}
	return d.WriteShort(pos, int16(t))
}

func peekType(d *DataBuf, pos int) (MsgType, bool) {
	magic, next, err := d.ReadInt(pos)
	if err != nil || uint32(magic) != Magic {
		return 0, false
	}
	t, _, err := d.ReadShort(next)
	if err != nil {
		return 0, false
	}
	return MsgType(t), true
}

func readHeaderExpect(d *DataBuf, pos int, want MsgType) (int, error) {
	magic, pos, err := d.ReadInt(pos)
	if err != nil {
		return pos, err
	}
	if uint32(magic) != Magic {
		return pos, &ProtocolError{Reason: fmt.Sprintf("bad magic 0x%08x", uint32(magic))}
	}
	t, pos, err := d.ReadShort(pos)
	if err != nil {
		return pos, err
	}
	if MsgType(t) != want {
		return pos, &ProtocolError{Reason: fmt.Sprintf("expected message type %d, got %d", want, t)}
	}
	return pos, nil
}
