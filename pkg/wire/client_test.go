package wire

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterIsIdempotentPerAddr(t *testing.T) {
	reg := NewRegistry()
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 40000}

	e1 := reg.Register(addr, ClientRequest{Schema: "SimpleTrackProtocol"})
	e2 := reg.Register(addr, ClientRequest{Schema: "SimpleTrackProtocol"})
	require.Same(t, e1, e2)
	require.Equal(t, 1, reg.Len())

	reg.Remove(addr)
	require.Equal(t, 0, reg.Len())
}

func TestRegistryAssignsDistinctIDs(t *testing.T) {
	reg := NewRegistry()
	a := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	b := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2}

	ea := reg.Register(a, ClientRequest{})
	eb := reg.Register(b, ClientRequest{})
	require.NotEqual(t, ea.ID, eb.ID)
}

// TestServerAcceptsClientRequest exercises the full CLIENT_REQUEST ->
// SERVER_ACCEPT round trip over a real loopback UDP socket.
func TestServerAcceptsClientRequest(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0")
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go srv.Serve(ctx)

	client, err := net.DialUDP("udp", nil, srv.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	out := NewDataBuf(128)
	pos, err := WriteClientRequest(out, 0, ClientRequest{
		Flags:          ClientFlagDataReceiver,
		Schema:         "SimpleTrackProtocol",
		RequestedSimMs: 1_700_000_000_000,
		RequestedIntMs: 1000,
	})
	require.NoError(t, err)

	_, err = client.Write(out.Bytes()[:pos])
	require.NoError(t, err)

	buf := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)

	in := FromBytes(buf[:n])
	require.True(t, IsServerAccept(in, 0))
	accept, _, err := ReadServerAccept(in, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1000), accept.EffectiveIntMs)
	require.Equal(t, uint32(1), accept.ClientID)

	require.Eventually(t, func() bool { return srv.Registry().Len() == 1 }, time.Second, 10*time.Millisecond)
}

// TestServerRejectsUnknownSchema exercises the SERVER_REJECT path.
func TestServerRejectsUnknownSchema(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", WithSchemaValidator(func(schema string) bool {
		return schema == "SimpleTrackProtocol"
	}))
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go srv.Serve(ctx)

	client, err := net.DialUDP("udp", nil, srv.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	out := NewDataBuf(128)
	pos, err := WriteClientRequest(out, 0, ClientRequest{Schema: "UnknownSchema"})
	require.NoError(t, err)
	_, err = client.Write(out.Bytes()[:pos])
	require.NoError(t, err)

	buf := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)

	in := FromBytes(buf[:n])
	require.True(t, IsServerReject(in, 0))
	rej, _, err := ReadServerReject(in, 0)
	require.NoError(t, err)
	require.Equal(t, RejectUnknownSchema, rej.Reason)
}
