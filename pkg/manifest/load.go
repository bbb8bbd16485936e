package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/canlake/canlake/pkg/canerr"
	"github.com/canlake/canlake/pkg/cloudstore"
)

// Well-known document names in the input bucket root.
const (
	AggregationsObject   = "aggregations.json"
	BacklogObject        = "backlog.json"
	EventsObject         = "events.json"
	CustomMessagesObject = "custom-messages.json"
	GeofencesObject      = "geofences.json"
)

func fetchJSON(ctx context.Context, store cloudstore.ObjectStore, name string, v interface{}) error {
	r, err := store.Get(ctx, name)
	if err != nil {
		return err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// LoadAggregations fetches and validates aggregations.json. The
// document is required; any failure is fatal.
func LoadAggregations(ctx context.Context, store cloudstore.ObjectStore) (*Aggregations, error) {
	var doc Aggregations
	if err := fetchJSON(ctx, store, AggregationsObject, &doc); err != nil {
		return nil, canerr.E(canerr.KindConfig, "manifest.aggregations", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadBacklog fetches and validates backlog.json. Required for backlog
// runs; any failure is fatal.
func LoadBacklog(ctx context.Context, store cloudstore.ObjectStore) (*Backlog, error) {
	var doc Backlog
	if err := fetchJSON(ctx, store, BacklogObject, &doc); err != nil {
		return nil, canerr.E(canerr.KindConfig, "manifest.backlog", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadEvents fetches events.json. An absent or unreadable document
// disables event detection (ok=false); a present but invalid document
// is fatal.
func LoadEvents(ctx context.Context, store cloudstore.ObjectStore) (*Events, bool, error) {
	var doc Events
	if err := fetchJSON(ctx, store, EventsObject, &doc); err != nil {
		return nil, false, nil
	}
	if err := doc.Validate(); err != nil {
		return nil, false, err
	}
	doc.General.Defaults()
	return &doc, true, nil
}

// LoadCustomMessages fetches custom-messages.json. Absent documents
// disable the transform step (ok=false).
func LoadCustomMessages(ctx context.Context, store cloudstore.ObjectStore) ([]CustomMessage, bool, error) {
	var docs []CustomMessage
	if err := fetchJSON(ctx, store, CustomMessagesObject, &docs); err != nil {
		return nil, false, nil
	}
	if err := ValidateCustomMessages(docs); err != nil {
		return nil, false, err
	}
	return docs, true, nil
}

// LoadGeofences fetches geofences.json. An absent or unreadable
// document yields an empty set; geofences are only needed when a
// custom message uses the geofence function, and the transform step
// reports that case itself.
func LoadGeofences(ctx context.Context, store cloudstore.ObjectStore) ([]Geofence, error) {
	var docs []Geofence
	if err := fetchJSON(ctx, store, GeofencesObject, &docs); err != nil {
		return nil, nil
	}
	return docs, nil
}
