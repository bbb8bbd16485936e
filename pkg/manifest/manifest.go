// Package manifest defines the JSON configuration documents stored in
// the input bucket: aggregations.json, backlog.json, events.json,
// custom-messages.json and geofences.json. Validation failures on the
// required documents are fatal configuration errors.
package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/canlake/canlake/pkg/canerr"
)

// Date modes for the aggregations manifest.
const (
	DateModePreviousDay    = "previous_day"
	DateModeSpecificPeriod = "specific_period"
)

// Message match types shared by events and custom messages.
const (
	MatchEquals      = "equals"
	MatchContains    = "contains"
	MatchAllMessages = "all_messages"
)

// Aggregations is the aggregations.json document.
type Aggregations struct {
	Config         AggregationsConfig `json:"config"`
	DeviceClusters []DeviceCluster    `json:"device_clusters"`
	ClusterDetails []ClusterDetails   `json:"cluster_details"`
}

// AggregationsConfig holds the run-level date range and trip tuning.
type AggregationsConfig struct {
	Date DateConfig `json:"date"`
	Trip TripConfig `json:"trip"`
}

// DateConfig selects the days an aggregation run covers.
type DateConfig struct {
	Mode      string `json:"mode"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// TripConfig tunes trip segmentation, both values in minutes.
type TripConfig struct {
	TripGapMin       float64 `json:"trip_gap_min"`
	TripMinLengthMin float64 `json:"trip_min_length_min"`
}

// Gap returns the trip gap threshold as a duration.
func (c TripConfig) Gap() time.Duration {
	return time.Duration(c.TripGapMin * float64(time.Minute))
}

// MinLength returns the minimum trip length as a duration.
func (c TripConfig) MinLength() time.Duration {
	return time.Duration(c.TripMinLengthMin * float64(time.Minute))
}

// DeviceCluster names a group of devices.
type DeviceCluster struct {
	Cluster string   `json:"cluster"`
	Devices []string `json:"devices"`
}

// ClusterDetails attaches trip identification and aggregation specs to
// one or more clusters.
type ClusterDetails struct {
	Clusters []string `json:"clusters"`
	Details  Details  `json:"details"`
}

// Details holds the per-cluster processing specification.
type Details struct {
	TripIdentifier TripIdentifier    `json:"trip_identifier"`
	Aggregations   []AggregationSpec `json:"aggregations"`
}

// TripIdentifier names the message whose timestamps define trips.
type TripIdentifier struct {
	Message string `json:"message"`
}

// AggregationSpec requests aggregations of signals within one message.
type AggregationSpec struct {
	Message     string   `json:"message"`
	Signal      []string `json:"signal"`
	Aggregation []string `json:"aggregation"`
}

// Validate checks the aggregations manifest. Any failure is fatal.
func (a *Aggregations) Validate() error {
	const op = "manifest.aggregations"

	switch a.Config.Date.Mode {
	case DateModePreviousDay:
	case DateModeSpecificPeriod:
		start, err := time.Parse("2006-01-02", a.Config.Date.StartDate)
		if err != nil {
			return canerr.Configf(op, "invalid start_date %q: want YYYY-MM-DD", a.Config.Date.StartDate)
		}
		end, err := time.Parse("2006-01-02", a.Config.Date.EndDate)
		if err != nil {
			return canerr.Configf(op, "invalid end_date %q: want YYYY-MM-DD", a.Config.Date.EndDate)
		}
		if end.Before(start) {
			return canerr.Configf(op, "end_date %s before start_date %s", a.Config.Date.EndDate, a.Config.Date.StartDate)
		}
	default:
		return canerr.Configf(op, "invalid date mode %q", a.Config.Date.Mode)
	}

	if a.Config.Trip.TripGapMin <= 0 {
		return canerr.Configf(op, "trip_gap_min must be positive, got %v", a.Config.Trip.TripGapMin)
	}
	if a.Config.Trip.TripMinLengthMin < 0 {
		return canerr.Configf(op, "trip_min_length_min must be non-negative, got %v", a.Config.Trip.TripMinLengthMin)
	}

	if len(a.DeviceClusters) == 0 {
		return canerr.Configf(op, "device_clusters is required")
	}
	for _, dc := range a.DeviceClusters {
		if dc.Cluster == "" {
			return canerr.Configf(op, "device cluster with empty name")
		}
	}
	for _, cd := range a.ClusterDetails {
		if len(cd.Clusters) == 0 {
			return canerr.Configf(op, "cluster_details entry names no clusters")
		}
		if cd.Details.TripIdentifier.Message == "" {
			return canerr.Configf(op, "cluster_details for %v missing trip_identifier.message", cd.Clusters)
		}
		for _, spec := range cd.Details.Aggregations {
			if spec.Message == "" {
				return canerr.Configf(op, "aggregation spec with empty message in %v", cd.Clusters)
			}
			if len(spec.Signal) == 0 || len(spec.Aggregation) == 0 {
				return canerr.Configf(op, "aggregation spec for %s needs signal and aggregation lists", spec.Message)
			}
		}
	}
	return nil
}

// Days resolves the configured date range into UTC calendar days.
// previous_day yields yesterday relative to now.
func (c DateConfig) Days(now time.Time) ([]time.Time, error) {
	if c.Mode == DateModePreviousDay {
		day := now.UTC().AddDate(0, 0, -1)
		return []time.Time{time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)}, nil
	}

	start, err := time.Parse("2006-01-02", c.StartDate)
	if err != nil {
		return nil, canerr.Configf("manifest.date", "invalid start_date %q", c.StartDate)
	}
	end, err := time.Parse("2006-01-02", c.EndDate)
	if err != nil {
		return nil, canerr.Configf("manifest.date", "invalid end_date %q", c.EndDate)
	}
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days, nil
}

// ClustersFor returns the device's cluster names in manifest order.
func (a *Aggregations) ClustersFor(deviceID string) []string {
	var out []string
	for _, dc := range a.DeviceClusters {
		for _, d := range dc.Devices {
			if d == deviceID {
				out = append(out, dc.Cluster)
				break
			}
		}
	}
	return out
}

// DetailsFor returns the processing details attached to a cluster.
func (a *Aggregations) DetailsFor(cluster string) (Details, bool) {
	for _, cd := range a.ClusterDetails {
		for _, c := range cd.Clusters {
			if c == cluster {
				return cd.Details, true
			}
		}
	}
	return Details{}, false
}

// Backlog is the backlog.json document: reference lists awaiting
// decode, each expanded independently by the planner.
type Backlog struct {
	Config BacklogConfig `json:"config"`
	Files  [][]string    `json:"files"`
}

// BacklogConfig bounds batch sizes for the planner's optimization pass.
type BacklogConfig struct {
	BatchSize BatchSize `json:"batch_size"`
}

// BatchSize holds the min/max item bounds.
type BatchSize struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Validate checks the backlog manifest. Any failure is fatal.
func (b *Backlog) Validate() error {
	const op = "manifest.backlog"
	if b.Files == nil {
		return canerr.Configf(op, "files is required")
	}
	if b.Config.BatchSize.Min <= 0 || b.Config.BatchSize.Max <= 0 {
		return canerr.Configf(op, "config.batch_size.{min,max} are required and must be positive")
	}
	if b.Config.BatchSize.Max < b.Config.BatchSize.Min {
		return canerr.Configf(op, "batch_size.max %d below min %d", b.Config.BatchSize.Max, b.Config.BatchSize.Min)
	}
	return nil
}

// Events is the events.json document. The document is optional; an
// absent file disables event detection for the run.
type Events struct {
	General EventGeneral `json:"general"`
	Events  []EventSpec  `json:"events"`
}

// EventGeneral carries GPS-join and notification settings shared by
// all events.
type EventGeneral struct {
	MessagesGPS       []string `json:"messages_gps"`
	IncludeGPSData    bool     `json:"include_gps_data"`
	SignalLatitude    string   `json:"signal_latitude"`
	SignalLongitude   string   `json:"signal_longitude"`
	StaticBodyContent string   `json:"static_body_content"`
}

// FilterList is the messages_filtered_list field. Its JSON shape
// depends on the match type: a list of message-name lists for
// "equals", a bare substring for "contains".
type FilterList struct {
	Lists   [][]string
	Pattern string
}

func (f *FilterList) UnmarshalJSON(data []byte) error {
	var pattern string
	if err := json.Unmarshal(data, &pattern); err == nil {
		f.Pattern = pattern
		return nil
	}
	return json.Unmarshal(data, &f.Lists)
}

func (f FilterList) MarshalJSON() ([]byte, error) {
	if f.Pattern != "" {
		return json.Marshal(f.Pattern)
	}
	return json.Marshal(f.Lists)
}

// EventSpec describes one threshold event.
type EventSpec struct {
	EventName            string     `json:"event_name"`
	MessagesMatchType    string     `json:"messages_match_type"`
	MessagesFilteredList FilterList `json:"messages_filtered_list"`
	TriggerSignals       []string   `json:"trigger_signals"`
	LowerThreshold       float64    `json:"lower_threshold"`
	UpperThreshold       float64    `json:"upper_threshold"`
	ExactMatch           bool       `json:"exact_match"`
	RisingAsStart        bool       `json:"rising_as_start"`
	Raster               string     `json:"raster"`
}

// Validate checks the events manifest.
func (e *Events) Validate() error {
	const op = "manifest.events"
	for _, ev := range e.Events {
		if ev.EventName == "" {
			return canerr.Configf(op, "event with empty event_name")
		}
		if len(ev.TriggerSignals) == 0 {
			return canerr.Configf(op, "event %s has no trigger_signals", ev.EventName)
		}
		switch ev.MessagesMatchType {
		case MatchEquals, MatchContains, MatchAllMessages:
		default:
			return canerr.Configf(op, "event %s has invalid messages_match_type %q", ev.EventName, ev.MessagesMatchType)
		}
		if _, err := ParseRaster(ev.Raster); err != nil {
			return canerr.Configf(op, "event %s: %v", ev.EventName, err)
		}
	}
	return nil
}

// Defaults fills unset general fields with the values the detector
// assumes when the document omits them.
func (g *EventGeneral) Defaults() {
	if len(g.MessagesGPS) == 0 {
		g.MessagesGPS = []string{"CAN9_GnssPos"}
	}
	if g.SignalLatitude == "" {
		g.SignalLatitude = "Latitude"
	}
	if g.SignalLongitude == "" {
		g.SignalLongitude = "Longitude"
	}
	if g.StaticBodyContent == "" {
		g.StaticBodyContent = "Review details via e.g. your event dashboard"
	}
}

// CustomMessage is one entry of the custom-messages.json document.
type CustomMessage struct {
	CustomMessageName    string     `json:"custom_message_name"`
	MessagesMatchType    string     `json:"messages_match_type"`
	MessagesFilteredList FilterList `json:"messages_filtered_list"`
	Function             string     `json:"function"`
	Raster               string     `json:"raster"`
	Prefix               bool       `json:"prefix"`
}

// ValidateCustomMessages checks the custom-messages document.
func ValidateCustomMessages(msgs []CustomMessage) error {
	const op = "manifest.custom_messages"
	for _, m := range msgs {
		if m.CustomMessageName == "" {
			return canerr.Configf(op, "custom message with empty custom_message_name")
		}
		if m.Function == "" {
			return canerr.Configf(op, "custom message %s has no function", m.CustomMessageName)
		}
		if _, err := ParseRaster(m.Raster); err != nil {
			return canerr.Configf(op, "custom message %s: %v", m.CustomMessageName, err)
		}
	}
	return nil
}

// Geofence is one entry of the geofences.json document.
type Geofence struct {
	ID        float64 `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"` // kilometers
}

// ParseRaster parses a resampling raster. The empty string means no
// resampling. Accepts Go duration syntax plus the bare pandas-style
// aliases the original documents use ("1S", "5T", "1H", "100L").
func ParseRaster(raster string) (time.Duration, error) {
	s := strings.TrimSpace(raster)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(strings.ToLower(s)); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative raster %q", raster)
		}
		return d, nil
	}

	// Pandas offset alias: digits followed by a unit letter.
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.') {
		i++
	}
	num, unit := s[:i], s[i:]
	if num == "" {
		num = "1"
	}
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid raster %q", raster)
	}

	var scale time.Duration
	switch strings.ToUpper(unit) {
	case "S":
		scale = time.Second
	case "T", "MIN":
		scale = time.Minute
	case "H":
		scale = time.Hour
	case "L", "MS":
		scale = time.Millisecond
	default:
		return 0, fmt.Errorf("invalid raster %q", raster)
	}
	return time.Duration(n * float64(scale)), nil
}
