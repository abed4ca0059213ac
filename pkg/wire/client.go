package wire

import (
	"context"
	"fmt"
	"net"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/race-platform/race-core/pkg/hmap"
)

// ClientState is the server-side connection state machine of
// spec.md §4.C.
type ClientState int

const (
	ClientPending ClientState = iota
	ClientActive
	ClientStopped
)

// ClientEntry is one registered client as seen by the server.
type ClientEntry struct {
	ID         uint32
	Addr       *net.UDPAddr
	State      ClientState
	Flags      ClientFlags
	Schema     string
	IntervalMs int64
	LastSeen   time.Time
}

// Registry is the server's client table, backed by pkg/hmap keyed on
// the client's address string rather than Go's builtin map, per
// spec.md §4.D/§5: a single listener goroutine owns it, so no locking
// is required.
type Registry struct {
	byAddr *hmap.HMap
	nextID uint32
}

// NewRegistry returns an empty client registry.
func NewRegistry() *Registry {
	return &Registry{byAddr: hmap.New(16)}
}

// Register creates (or returns the existing) ClientEntry for addr.
func (r *Registry) Register(addr *net.UDPAddr, req ClientRequest) *ClientEntry {
	key := addr.String()
	if v, ok := r.byAddr.Get(key); ok {
		entry := v.(*ClientEntry)
		entry.Flags = req.Flags
		entry.Schema = req.Schema
		entry.LastSeen = time.Now()
		return entry
	}
	r.nextID++
	entry := &ClientEntry{
		ID:         r.nextID,
		Addr:       addr,
		State:      ClientPending,
		Flags:      req.Flags,
		Schema:     req.Schema,
		IntervalMs: req.RequestedIntMs,
		LastSeen:   time.Now(),
	}
	r.byAddr.Add(key, entry)
	return entry
}

// Lookup returns the entry registered for addr, if any.
func (r *Registry) Lookup(addr *net.UDPAddr) (*ClientEntry, bool) {
	v, ok := r.byAddr.Get(addr.String())
	if !ok {
		return nil, false
	}
	return v.(*ClientEntry), true
}

// Remove drops addr's entry, e.g. on STOP.
func (r *Registry) Remove(addr *net.UDPAddr) {
	r.byAddr.Remove(addr.String())
}

// Len returns the number of registered clients.
func (r *Registry) Len() int { return r.byAddr.Len() }

// Each visits every registered client.
func (r *Registry) Each(f func(*ClientEntry) bool) {
	r.byAddr.Each(func(_ string, v any) bool {
		return f(v.(*ClientEntry))
	})
}

// RejectReason codes for SERVER_REJECT, spec.md §4.C.
const (
	RejectUnknownSchema int32 = iota + 1
	RejectCapacityExceeded
	RejectMalformedRequest
)

// DataSource supplies outbound DATA payloads; the server calls it
// once per dispatch tick per active client. cmd/racecored installs
// internal/update's NodeDataSource.
type DataSource interface {
	NextData(client *ClientEntry, nowMs int64) (Data, bool)
}

// Server is the UDP listener and client state machine of spec.md
// §4.C. Its loop style — one goroutine reading datagrams into a
// reused buffer and dispatching by message type — follows the single
// reader-goroutine-per-listener shape cc-backend uses for its metric
// receivers (internal/memorystore/api.go's checkpoint-and-archive
// loop and pkg/metricstore/lineprotocol.go's ReceiveNats worker,
// generalized from a message queue subscription to a raw socket).
type Server struct {
	conn     *net.UDPConn
	reg      *Registry
	source   DataSource
	validate func(schema string) bool
}

// ServerOption configures a Server at construction.
type ServerOption func(*Server)

// WithSchemaValidator installs a predicate used to reject
// CLIENT_REQUESTs naming an unsupported schema.
func WithSchemaValidator(f func(schema string) bool) ServerOption {
	return func(s *Server) { s.validate = f }
}

// WithDataSource installs the supplier of outbound DATA payloads.
func WithDataSource(src DataSource) ServerOption {
	return func(s *Server) { s.source = src }
}

// NewServer binds a UDP listener on addr.
func NewServer(addr string, opts ...ServerOption) (*Server, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: resolve %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("wire: listen %q: %w", addr, err)
	}
	s := &Server{
		conn:     conn,
		reg:      NewRegistry(),
		validate: func(string) bool { return true },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Registry exposes the server's client table, e.g. for the dispatch
// loop to iterate active clients.
func (s *Server) Registry() *Registry { return s.reg }

// Close releases the listening socket.
func (s *Server) Close() error { return s.conn.Close() }

// Serve reads datagrams until ctx is cancelled or the socket errs.
// Each datagram is parsed and dispatched synchronously; DATA and
// TRACK/PROXIMITY payloads are never sent by clients in this
// direction, so only CLIENT_REQUEST and STOP are handled here.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	buf := make([]byte, 65507)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wire: read: %w", err)
		}
		s.handleDatagram(raddr, FromBytes(buf[:n]))
	}
}

func (s *Server) handleDatagram(raddr *net.UDPAddr, d *DataBuf) {
	if IsClientRequest(d, 0) {
		s.handleClientRequest(raddr, d)
		return
	}
	if IsStop(d, 0) {
		s.reg.Remove(raddr)
		return
	}
	cclog.Warnf("wire: unexpected message from %s", raddr)
}

func (s *Server) handleClientRequest(raddr *net.UDPAddr, d *DataBuf) {
	req, _, err := ReadClientRequest(d, 0)
	if err != nil {
		cclog.Warnf("wire: malformed CLIENT_REQUEST from %s: %v", raddr, err)
		s.reject(raddr, RejectMalformedRequest)
		return
	}
	if !s.validate(req.Schema) {
		s.reject(raddr, RejectUnknownSchema)
		return
	}

	entry := s.reg.Register(raddr, req)
	entry.State = ClientActive

	out := NewDataBuf(256)
	pos, err := WriteServerAccept(out, 0, ServerAccept{
		ServerFlags:    0,
		SimMs:          time.Now().UnixMilli(),
		EffectiveIntMs: req.RequestedIntMs,
		ClientID:       entry.ID,
	})
	if err != nil {
		cclog.Errorf("wire: encode SERVER_ACCEPT: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(out.Bytes()[:pos], raddr); err != nil {
		cclog.Errorf("wire: write SERVER_ACCEPT to %s: %v", raddr, err)
	}
}

func (s *Server) reject(raddr *net.UDPAddr, reason int32) {
	out := NewDataBuf(64)
	pos, err := WriteServerReject(out, 0, ServerReject{Reason: reason})
	if err != nil {
		cclog.Errorf("wire: encode SERVER_REJECT: %v", err)
		return
	}
	if _, err := s.conn.WriteToUDP(out.Bytes()[:pos], raddr); err != nil {
		cclog.Errorf("wire: write SERVER_REJECT to %s: %v", raddr, err)
	}
}

// DispatchOnce sends one DATA datagram to every active DataReceiver
// client whose source has data ready. One call serves all clients; it
// does not consult a client's IntervalMs. cmd/racecored registers no
// service that calls it.
func (s *Server) DispatchOnce(nowMs int64) {
	if s.source == nil {
		return
	}
	out := NewDataBuf(65507)
	s.reg.Each(func(c *ClientEntry) bool {
		if c.State != ClientActive || c.Flags&ClientFlagDataReceiver == 0 {
			return true
		}
		msg, ok := s.source.NextData(c, nowMs)
		if !ok {
			return true
		}
		pos, err := WriteData(out, 0, msg)
		if err != nil {
			cclog.Errorf("wire: encode DATA for client %d: %v", c.ID, err)
			return true
		}
		if _, err := s.conn.WriteToUDP(out.Bytes()[:pos], c.Addr); err != nil {
			cclog.Errorf("wire: write DATA to %s: %v", c.Addr, err)
		}
		return true
	})
}
