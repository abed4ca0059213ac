package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/race-platform/race-core/internal/tabular"
	"github.com/race-platform/race-core/internal/update"
	"github.com/race-platform/race-core/pkg/wire"
)

type fakeApplier struct {
	applied []*tabular.CDC
}

func (f *fakeApplier) Apply(cdc *tabular.CDC) (*update.Result, error) {
	f.applied = append(f.applied, cdc)
	return &update.Result{}, nil
}

func columnByTrackID(rec wire.TrackRecord) string { return rec.ID }

func TestToCDCsGroupsByColumn(t *testing.T) {
	a := New(nil, &fakeApplier{}, columnByTrackID, 1)
	data := wire.Data{
		SenderID:   1,
		SendTimeMs: 1_700_000_000_000,
		Payload:    wire.PayloadTrackMsg,
		Tracks: []wire.TrackRecord{
			{ID: "c1", TimeMs: 1_700_000_000_000, LatDeg: 10, LonDeg: 20, AltM: 3000},
			{ID: "c2", TimeMs: 1_700_000_000_500, LatDeg: 11, LonDeg: 21, AltM: 3100},
		},
	}
	cdcs := a.toCDCs(data)
	require.Len(t, cdcs, 2)
	byCol := map[string]*tabular.CDC{}
	for _, c := range cdcs {
		byCol[c.Column] = c
	}
	require.Contains(t, byCol, "c1")
	require.Contains(t, byCol, "c2")
	require.Len(t, byCol["c1"].Changes, 6)
}

func TestDecodeAndApplyFeedsEngine(t *testing.T) {
	fake := &fakeApplier{}
	a := New(nil, fake, columnByTrackID, 1)

	buf := wire.NewDataBuf(4096)
	_, err := wire.WriteData(buf, 0, wire.Data{
		SenderID:   7,
		SendTimeMs: 1_700_000_000_000,
		Payload:    wire.PayloadTrackMsg,
		Tracks: []wire.TrackRecord{
			{ID: "c1", TimeMs: 1_700_000_000_000, LatDeg: 1, LonDeg: 2, AltM: 3},
		},
	})
	require.NoError(t, err)

	a.decodeAndApply(buf.Bytes())
	require.Len(t, fake.applied, 1)
	require.Equal(t, "c1", fake.applied[0].Column)
}

func TestSubscribeWithoutClientIsNoop(t *testing.T) {
	a := New(nil, &fakeApplier{}, columnByTrackID, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Subscribe(ctx, []string{"race.tracks.>"}))
}
