package tile

import (
	"encoding/json"
	"regexp"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

var (
	hexColorRe   = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{4}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)
	funcColorRe  = regexp.MustCompile(`^(?i:rgba?|hsla?)\(\s*[-+0-9.%a-zA-Z\s,/]+\)$`)
	namedColorRe = regexp.MustCompile(`^[a-zA-Z]{3,20}$`)
)

// ColorSource says where a tile's final color came from.
type ColorSource string

const (
	ColorSourceNone      ColorSource = ""
	ColorSourcePayload   ColorSource = "payload"
	ColorSourceElevation ColorSource = "elevation"
)

type payloadColor struct {
	css      string
	sentinel bool
}

// parseColor accepts an [r,g,b] triple with finite components in [0,255] or
// a CSS color string. Anything else is reported as not ok and the caller
// drops the field.
func parseColor(raw json.RawMessage) (payloadColor, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return payloadColor{}, false
	}
	var triple []json.RawMessage
	if err := json.Unmarshal(raw, &triple); err == nil {
		return parseTriple(triple)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseCSSColor(s)
	}
	return payloadColor{}, false
}

func parseTriple(values []json.RawMessage) (payloadColor, bool) {
	if len(values) != 3 {
		return payloadColor{}, false
	}
	var rgb [3]float64
	for i, raw := range values {
		v, ok, _ := numberField(raw)
		if !ok || v < 0 || v > 255 {
			return payloadColor{}, false
		}
		rgb[i] = v
	}
	c := colorful.Color{R: rgb[0] / 255, G: rgb[1] / 255, B: rgb[2] / 255}
	return payloadColor{
		css:      c.Hex(),
		sentinel: rgb[0] == 255 && rgb[1] == 0 && rgb[2] == 0,
	}, true
}

func parseCSSColor(s string) (payloadColor, bool) {
	s = strings.TrimSpace(s)
	if !hexColorRe.MatchString(s) && !funcColorRe.MatchString(s) && !namedColorRe.MatchString(s) {
		return payloadColor{}, false
	}
	return payloadColor{css: s, sentinel: isSentinelCSS(s)}, true
}

// The elevation exporter writes pure red when it failed to color a sample.
func isSentinelCSS(s string) bool {
	norm := strings.ToLower(strings.Join(strings.Fields(s), ""))
	switch norm {
	case "red", "rgb(255,0,0)", "rgba(255,0,0,1)":
		return true
	}
	if len(norm) == 4 || len(norm) == 7 {
		if c, err := colorful.Hex(norm); err == nil {
			r, g, b := c.RGB255()
			return r == 255 && g == 0 && b == 0
		}
	}
	return false
}
