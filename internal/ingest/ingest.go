// Package ingest is the NATS transport alongside pkg/wire's UDP
// server (SPEC_FULL.md §4.L): it subscribes to the configured subjects,
// decodes each message as a wire.Data TRACK_MSG frame, converts every
// TrackRecord into a tabular.CDC, and applies it through the same
// update.Engine the UDP path uses. Its worker-pool subscribe shape is
// adapted from pkg/metricstore/lineprotocol.go's ReceiveNats, here
// fed by the module's own pkg/nats wrapper rather than cc-lib's, and
// decoding spec.md's binary wire frames rather than line-protocol text.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/race-platform/race-core/internal/tabular"
	"github.com/race-platform/race-core/internal/update"
	natsclient "github.com/race-platform/race-core/pkg/nats"
	"github.com/race-platform/race-core/pkg/wire"
)

// Applier is the subset of *update.Engine the adapter depends on,
// kept narrow so tests can supply a fake.
type Applier interface {
	Apply(cdc *tabular.CDC) (*update.Result, error)
}

// ColumnFor maps an inbound TrackRecord to the node column it should
// be written under. A typical deployment ties this to the track's own
// ID (one column per aircraft), but SPEC_FULL.md leaves the mapping to
// the deployment because node topologies vary.
type ColumnFor func(rec wire.TrackRecord) string

// Adapter subscribes to one or more NATS subjects and feeds decoded
// track data into an update.Engine.
type Adapter struct {
	client    *natsclient.Client
	engine    Applier
	columnFor ColumnFor
	workers   int
}

// New returns an Adapter that will apply decoded CDCs through engine,
// routing each TrackRecord to a column via columnFor.
func New(client *natsclient.Client, engine Applier, columnFor ColumnFor, workers int) *Adapter {
	if workers < 1 {
		workers = 1
	}
	return &Adapter{client: client, engine: engine, columnFor: columnFor, workers: workers}
}

// Subscribe establishes subscriptions on every subject and blocks
// until ctx is cancelled, matching ReceiveNats's "subscribe, block on
// ctx.Done, drain workers" shape.
func (a *Adapter) Subscribe(ctx context.Context, subjects []string) error {
	if a.client == nil {
		cclog.Warn("ingest: NATS client not configured, skipping subscription")
		return nil
	}

	var wg sync.WaitGroup
	msgs := make(chan []byte, a.workers*2)

	if a.workers > 1 {
		wg.Add(a.workers)
		for range a.workers {
			go func() {
				defer wg.Done()
				for m := range msgs {
					a.decodeAndApply(m)
				}
			}()
		}
	}

	for _, subject := range subjects {
		subject := subject
		var err error
		if a.workers > 1 {
			err = a.client.Subscribe(subject, func(_ string, data []byte) {
				select {
				case msgs <- data:
				case <-ctx.Done():
				}
			})
		} else {
			err = a.client.Subscribe(subject, func(_ string, data []byte) {
				a.decodeAndApply(data)
			})
		}
		if err != nil {
			return fmt.Errorf("ingest: subscribe %q: %w", subject, err)
		}
		cclog.Infof("ingest: NATS subscription to %q established", subject)
	}

	<-ctx.Done()
	if a.workers > 1 {
		close(msgs)
		wg.Wait()
	}
	return nil
}

func (a *Adapter) decodeAndApply(raw []byte) {
	buf := wire.FromBytes(raw)
	data, _, err := wire.ReadData(buf, 0)
	if err != nil {
		cclog.Errorf("ingest: decode frame: %v", err)
		return
	}
	if data.Payload != wire.PayloadTrackMsg {
		cclog.Warnf("ingest: ignoring non-track payload type %d", data.Payload)
		return
	}
	for _, cdc := range a.toCDCs(data) {
		if _, err := a.engine.Apply(cdc); err != nil {
			cclog.Errorf("ingest: apply CDC for column %q: %v", cdc.Column, err)
		}
	}
}

// toCDCs groups a DATA message's track records by destination column,
// since one CDC updates one column across potentially many rows but a
// single DATA message may carry tracks destined for several columns.
func (a *Adapter) toCDCs(data wire.Data) []*tabular.CDC {
	when := time.UnixMilli(data.SendTimeMs).UTC()
	byColumn := map[string][]tabular.RowChange{}
	var order []string
	for _, t := range data.Tracks {
		col := a.columnFor(t)
		if _, seen := byColumn[col]; !seen {
			order = append(order, col)
		}
		ts := time.UnixMilli(t.TimeMs).UTC()
		byColumn[col] = append(byColumn[col],
			tabular.RowChange{RowID: "lat", Value: tabular.NewReal(t.LatDeg, ts)},
			tabular.RowChange{RowID: "lon", Value: tabular.NewReal(t.LonDeg, ts)},
			tabular.RowChange{RowID: "alt", Value: tabular.NewReal(t.AltM, ts)},
			tabular.RowChange{RowID: "heading", Value: tabular.NewReal(t.HeadingDeg, ts)},
			tabular.RowChange{RowID: "speed", Value: tabular.NewReal(t.SpeedMS, ts)},
			tabular.RowChange{RowID: "vertical-rate", Value: tabular.NewReal(t.VerticalRate, ts)},
		)
	}
	cdcs := make([]*tabular.CDC, 0, len(order))
	for _, col := range order {
		cdcs = append(cdcs, &tabular.CDC{
			Originator: col,
			Column:     col,
			ChangeTime: when,
			Changes:    byColumn[col],
		})
	}
	return cdcs
}
