package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tremor/internal/logger"
	"tremor/pkg/errors"
	"tremor/pkg/models"
)

// Normalizer turns heterogeneous per-source payloads into the canonical
// Event. Sources disagree on almost everything: magnitudes arrive as numbers
// or strings, coordinates as signed decimals or direction-suffixed strings
// ("103.4°E"), times in a couple of layouts. Missing optional fields become
// nil, never a dropped event; only an event with no usable identity is a
// parse failure.
type Normalizer struct {
	logger logger.Logger
}

func NewNormalizer(log logger.Logger) *Normalizer {
	return &Normalizer{logger: log}
}

var timeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02 15:04:05",
}

func (n *Normalizer) Normalize(source string, data json.RawMessage) (models.Event, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Event{}, errors.ErrParse.WithCause(err)
	}
	return n.NormalizeMap(source, raw)
}

func (n *Normalizer) NormalizeMap(source string, raw map[string]interface{}) (models.Event, error) {
	externalID := stringField(raw, "id", "eventId", "title")
	if externalID == "" {
		return models.Event{}, errors.ErrParse.WithCause(fmt.Errorf("source %s: no event identity field", source))
	}

	ev := models.Event{
		Source:     source,
		ExternalID: externalID,
		Raw:        raw,
	}

	if mag, err := floatField(raw, "magnitude"); err == nil {
		ev.Magnitude = &mag
	}
	if depth, err := floatField(raw, "depth"); err == nil {
		ev.DepthKM = &depth
	}

	if v, ok := raw["latitude"]; ok {
		lat, err := NormalizeLatitude(v)
		if err != nil {
			n.logger.Warnw("Unparseable latitude", "source", source, "value", v)
		}
		ev.Latitude = lat
	}
	if v, ok := raw["longitude"]; ok {
		lon, err := NormalizeLongitude(v)
		if err != nil {
			n.logger.Warnw("Unparseable longitude", "source", source, "value", v)
		}
		ev.Longitude = lon
	}

	if ts := stringField(raw, "shockTime", "time"); ts != "" {
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, ts); err == nil {
				ev.OccurredAt = t
				break
			}
		}
	}

	ev.Revision = revision(raw, ev.OccurredAt)

	return ev, nil
}

// revision orders updates to one identity. Sources that publish an explicit
// update counter win; otherwise the event time stands in. An event with
// neither gets revision 0: the first sighting is admitted, replays are stale.
func revision(raw map[string]interface{}, occurredAt time.Time) int64 {
	for _, key := range []string{"updates", "revision"} {
		if rev, err := floatField(raw, key); err == nil {
			return int64(rev)
		}
	}
	if !occurredAt.IsZero() {
		return occurredAt.Unix()
	}
	return 0
}

func stringField(raw map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func floatField(raw map[string]interface{}, key string) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("field %s absent", key)
	}
	return toFloat(v)
}

func toFloat(v interface{}) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", x)
		}
		return f, nil
	case json.Number:
		return x.Float64()
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// NormalizeLongitude parses a longitude in any of the upstream shapes
// (signed decimal, "103.4°E", "80.2W") into signed decimal degrees wrapped
// to (-180, 180].
func NormalizeLongitude(v interface{}) (float64, error) {
	lon, err := parseCoordinate(v, "E", "W")
	if err != nil {
		return 0, err
	}
	for lon > 180 {
		lon -= 360
	}
	for lon <= -180 {
		lon += 360
	}
	return lon, nil
}

// NormalizeLatitude parses a latitude into signed decimal degrees folded
// into [-90, 90].
func NormalizeLatitude(v interface{}) (float64, error) {
	lat, err := parseCoordinate(v, "N", "S")
	if err != nil {
		return 0, err
	}
	for lat > 90 {
		lat = 180 - lat
	}
	for lat < -90 {
		lat = -180 - lat
	}
	return lat, nil
}

func parseCoordinate(v interface{}, positive, negative string) (float64, error) {
	s, isString := v.(string)
	if !isString {
		return toFloat(v)
	}

	upper := strings.ToUpper(s)
	hasPositive := strings.Contains(upper, positive)
	hasNegative := strings.Contains(upper, negative)

	clean := strings.NewReplacer("°", "", positive, "", negative, "", strings.ToLower(positive), "", strings.ToLower(negative), "").Replace(s)
	val, err := strconv.ParseFloat(strings.TrimSpace(clean), 64)
	if err != nil {
		return 0, fmt.Errorf("not a coordinate: %q", s)
	}

	if hasNegative {
		return -abs(val), nil
	}
	if hasPositive {
		return abs(val), nil
	}
	return val, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
