package update

import (
	"github.com/race-platform/race-core/internal/tabular"
	"github.com/race-platform/race-core/pkg/wire"
)

// trackRows are the row ids a NodeDataSource expects every tracked
// column to carry, the inverse of internal/ingest's toCDCs mapping.
var trackRows = [...]string{"lat", "lon", "alt", "heading", "speed", "vertical-rate"}

// NodeDataSource adapts an Engine's live node into a wire.DataSource:
// on each call it re-reads every column's current track cells and
// packs them into one DATA/TRACK_MSG payload for the requesting client.
type NodeDataSource struct {
	engine *Engine
}

// NewNodeDataSource returns a wire.DataSource backed by engine.
func NewNodeDataSource(engine *Engine) *NodeDataSource {
	return &NodeDataSource{engine: engine}
}

// NextData implements wire.DataSource. It uses the requesting client
// only for the frame's SenderID (spec.md §4.C
// leaves per-client column filtering to the schema, out of scope
// here) and returns every column that currently has a complete set of
// track cells.
func (s *NodeDataSource) NextData(client *wire.ClientEntry, nowMs int64) (wire.Data, bool) {
	snapshot := s.engine.Node()
	tracks := make([]wire.TrackRecord, 0, len(snapshot))
	for colID, cd := range snapshot {
		rec, ok := trackRecordFromColumn(colID, cd)
		if !ok {
			continue
		}
		tracks = append(tracks, rec)
	}
	if len(tracks) == 0 {
		return wire.Data{}, false
	}
	return wire.Data{
		SenderID:   client.ID,
		SendTimeMs: nowMs,
		Payload:    wire.PayloadTrackMsg,
		Tracks:     tracks,
	}, true
}

func trackRecordFromColumn(colID string, cd tabular.ColumnData) (wire.TrackRecord, bool) {
	rec := wire.TrackRecord{ID: colID, TimeMs: cd.LastUpdate.UnixMilli()}
	values := map[string]*float64{
		"lat": &rec.LatDeg, "lon": &rec.LonDeg, "alt": &rec.AltM,
		"heading": &rec.HeadingDeg, "speed": &rec.SpeedMS, "vertical-rate": &rec.VerticalRate,
	}
	for _, row := range trackRows {
		v, ok := cd.Get(row)
		if !ok {
			return wire.TrackRecord{}, false
		}
		f, err := v.AsFloat64()
		if err != nil {
			return wire.TrackRecord{}, false
		}
		*values[row] = f
	}
	return rec, true
}
