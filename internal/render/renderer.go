// Package render produces the outbound message text for one event and one
// template. Rendering is total: an unresolved placeholder becomes an empty
// string, never an error, so a sparse payload still produces a usable alert.
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"tremor/internal/config"
	"tremor/internal/constants"
	"tremor/pkg/models"
)

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// UpdatePrefix marks a re-delivery caused by a revised event.
const UpdatePrefix = "[UPDATE] "

type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render selects the source's template (default template as fallback) and
// substitutes `{path.to.field}` placeholders from the event. The attachment
// request, if any, is declarative: resolving it to image bytes is the
// dispatcher's job.
func (r *Renderer) Render(snap *config.Snapshot, ev models.Event, updated bool) models.RenderedMessage {
	template, ok := snap.Templates[ev.Source]
	if !ok {
		template = snap.Templates[constants.DefaultTemplateKey]
	}

	text := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := match[1 : len(match)-1]
		return r.resolve(ev, path)
	})
	text = strings.TrimSpace(text)

	if text != "" && updated {
		text = UpdatePrefix + text
	}

	return models.RenderedMessage{
		Text:       text,
		Attachment: r.attachment(snap, ev),
	}
}

func (r *Renderer) resolve(ev models.Event, path string) string {
	switch path {
	case "source_upper":
		return strings.ToUpper(ev.Source)
	case "latitude":
		// Zero on the Event is indistinguishable from a real equator
		// reading; only format when the payload carried the field.
		if _, ok := ev.Raw["latitude"]; !ok {
			return ""
		}
		return FormatLatitude(ev.Latitude)
	case "longitude":
		if _, ok := ev.Raw["longitude"]; !ok {
			return ""
		}
		return FormatLongitude(ev.Longitude)
	}
	return formatValue(lookupPath(ev.Raw, path))
}

// attachment decides whether this event gets an image. The source must be in
// the draw set and pass its per-field draw filters; a payload-supplied image
// URL short-circuits local rendering.
func (r *Renderer) attachment(snap *config.Snapshot, ev models.Event) *models.AttachmentRequest {
	if _, ok := snap.DrawSources[ev.Source]; !ok {
		return nil
	}

	for field, re := range snap.DrawFilters[ev.Source] {
		value := formatValue(lookupPath(ev.Raw, field))
		if !re.MatchString(value) {
			return nil
		}
	}

	req := &models.AttachmentRequest{Event: ev}
	if url, ok := ev.Raw["imageURI"].(string); ok && url != "" {
		req.RemoteURL = url
	}
	return req
}

func lookupPath(raw map[string]interface{}, path string) interface{} {
	var value interface{} = raw
	for _, key := range strings.Split(path, ".") {
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil
		}
		value, ok = m[key]
		if !ok {
			return nil
		}
	}
	return value
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// FormatLatitude renders signed decimal degrees with a hemisphere suffix,
// e.g. 31.0 -> "31.00°N".
func FormatLatitude(lat float64) string {
	direction := "N"
	if lat < 0 {
		direction = "S"
	}
	return fmt.Sprintf("%.2f°%s", abs(lat), direction)
}

func FormatLongitude(lon float64) string {
	direction := "E"
	if lon < 0 {
		direction = "W"
	}
	return fmt.Sprintf("%.2f°%s", abs(lon), direction)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
