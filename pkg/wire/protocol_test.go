package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScenarioS1 reproduces spec.md §8 scenario S1 exactly: a
// CLIENT_REQUEST is written into a 100-byte buffer at position 0, then
// read back, and the cursor lands on the expected byte offset.
func TestScenarioS1(t *testing.T) {
	d := NewDataBuf(100)
	req := ClientRequest{
		Flags:          ClientFlagDataReceiver,
		Schema:         "SimpleTrackProtocol",
		RequestedSimMs: 1_700_000_000_000,
		RequestedIntMs: 2000,
	}

	pos, err := WriteClientRequest(d, 0, req)
	require.NoError(t, err)
	require.Equal(t, 6+4+2+len("SimpleTrackProtocol")+8+4, pos)

	require.True(t, IsClientRequest(d, 0))
	got, readPos, err := ReadClientRequest(d, 0)
	require.NoError(t, err)
	require.Equal(t, pos, readPos)
	require.Equal(t, req, got)
}

func TestServerAcceptRoundTrip(t *testing.T) {
	d := NewDataBuf(64)
	a := ServerAccept{ServerFlags: 1, SimMs: 1_700_000_000_000, EffectiveIntMs: 2500, ClientID: 7}
	pos, err := WriteServerAccept(d, 0, a)
	require.NoError(t, err)

	require.True(t, IsServerAccept(d, 0))
	got, readPos, err := ReadServerAccept(d, 0)
	require.NoError(t, err)
	require.Equal(t, pos, readPos)
	require.Equal(t, a, got)
}

func TestServerRejectRoundTrip(t *testing.T) {
	d := NewDataBuf(32)
	r := ServerReject{Reason: RejectUnknownSchema}
	_, err := WriteServerReject(d, 0, r)
	require.NoError(t, err)

	require.True(t, IsServerReject(d, 0))
	got, _, err := ReadServerReject(d, 0)
	require.NoError(t, err)
	require.Equal(t, r, got)
}

func TestStopRoundTrip(t *testing.T) {
	d := NewDataBuf(16)
	_, err := WriteStop(d, 0)
	require.NoError(t, err)
	require.True(t, IsStop(d, 0))
	_, err = ReadStop(d, 0)
	require.NoError(t, err)
}

// TestDataTrackMsgRoundTrip is spec.md §8 testable property 3:
// write_X/read_X round trips for every message type, here with a
// TRACK_MSG payload of several records.
func TestDataTrackMsgRoundTrip(t *testing.T) {
	d := NewDataBuf(512)
	msg := Data{
		SenderID:   3,
		SendTimeMs: 1_700_000_001_000,
		Payload:    PayloadTrackMsg,
		Tracks: []TrackRecord{
			{
				ID: "N12345", MsgOrd: 1, Flags: 0,
				TimeMs: 1_700_000_001_000,
				LatDeg: 37.6188, LonDeg: -122.3758, AltM: 1200,
				HeadingDeg: 270, SpeedMS: 120, VerticalRate: -2.5,
			},
			{
				ID: "N67890", MsgOrd: 2, Flags: 1,
				TimeMs: 1_700_000_001_500,
				LatDeg: 37.7, LonDeg: -122.4, AltM: 3000,
				HeadingDeg: 90, SpeedMS: 200, VerticalRate: 0,
			},
		},
	}

	pos, err := WriteData(d, 0, msg)
	require.NoError(t, err)

	require.True(t, IsData(d, 0))
	got, readPos, err := ReadData(d, 0)
	require.NoError(t, err)
	require.Equal(t, pos, readPos)
	require.Equal(t, msg, got)
}

func TestDataProximityMsgRoundTrip(t *testing.T) {
	d := NewDataBuf(512)
	msg := Data{
		SenderID:   9,
		SendTimeMs: 1_700_000_002_000,
		Payload:    PayloadProximityMsg,
		Proximity: []ProximityPair{
			{ReferenceID: "N12345", TargetID: "N67890", DistanceM: 1852.3, Flags: 0},
			{ReferenceID: "N12345", TargetID: "N11111", DistanceM: 500.0, Flags: 1},
		},
	}

	pos, err := WriteData(d, 0, msg)
	require.NoError(t, err)
	got, readPos, err := ReadData(d, 0)
	require.NoError(t, err)
	require.Equal(t, pos, readPos)
	require.Equal(t, msg, got)
}

func TestReadRejectsBadMagic(t *testing.T) {
	d := NewDataBuf(16)
	binary.BigEndian.PutUint32(d.Bytes()[0:], 0xdeadbeef)
	_, err := d.WriteShort(4, int16(MsgClientRequest))
	require.NoError(t, err)

	_, _, err = ReadClientRequest(d, 0)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestReadRejectsWrongType(t *testing.T) {
	d := NewDataBuf(16)
	_, err := WriteStop(d, 0)
	require.NoError(t, err)

	_, _, err = ReadClientRequest(d, 0)
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestTruncatedFrameIsBoundsError(t *testing.T) {
	d := NewDataBuf(4)
	binary.BigEndian.PutUint32(d.Bytes()[0:], Magic)
	_, _, err := ReadClientRequest(d, 0)
	require.Error(t, err)
	var boundsErr *BoundsError
	require.ErrorAs(t, err, &boundsErr)
}
