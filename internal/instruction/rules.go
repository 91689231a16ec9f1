package instruction

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	firstSecondsRe = regexp.MustCompile(`first\s+(\d+(?:\.\d+)?)\s*(?:s\b|sec|second)`)
	lastSecondsRe  = regexp.MustCompile(`last\s+(\d+(?:\.\d+)?)\s*(?:s\b|sec|second)`)
	multiplierRe   = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*x\b`)
	quotedRe       = regexp.MustCompile(`"([^"]+)"|'([^']+)'|“([^”]+)”`)
)

// RuleParser maps keywords to operations. It never fails and always returns
// at least one operation.
type RuleParser struct{}

func NewRuleParser() *RuleParser {
	return &RuleParser{}
}

// Parse runs every keyword group against the lower-cased instruction. Groups
// are independent; each match appends. With no match the plan is a single
// upscale.
func (p *RuleParser) Parse(instruction string) Result {
	raw := instruction
	inst := strings.ToLower(instruction)
	var ops []Operation

	if containsAny(inst, "denoise", "noise") {
		ops = append(ops, op(OpDenoise, nil))
	}
	if containsAny(inst, "stabil", "steady") {
		ops = append(ops, op(OpStabilize, nil))
	}
	if containsAny(inst, "brightness", "color", "colour", "contrast") {
		params := map[string]any{}
		if strings.Contains(inst, "bright") {
			params["brightness"] = 0.1
		}
		ops = append(ops, op(OpColorAdjust, params))
	}
	if containsAny(inst, "crop", "resize", "aspect") {
		if strings.Contains(inst, "16:9") {
			ops = append(ops, op(OpCrop, map[string]any{"aspect": "16:9"}))
		} else {
			ops = append(ops, op(OpResize, nil))
		}
	}
	if containsAny(inst, "black and white", "black & white", "grayscale", "greyscale", "monochrome", "b&w") {
		ops = append(ops, op(OpGrayscale, nil))
	}
	if containsAny(inst, "trim", "cut") {
		params := map[string]any{}
		if m := firstSecondsRe.FindStringSubmatch(inst); m != nil {
			params["start"] = parseFloat(m[1])
		}
		if m := lastSecondsRe.FindStringSubmatch(inst); m != nil {
			params["end"] = parseFloat(m[1])
		}
		if len(params) > 0 {
			ops = append(ops, op(OpTrim, params))
		}
	}
	if factor, ok := speedFactor(inst); ok {
		ops = append(ops, op(OpSpeed, map[string]any{"factor": factor}))
	}
	if containsAny(inst, "quieter", "lower the volume", "turn down") {
		ops = append(ops, op(OpVolume, map[string]any{"factor": 0.5}))
	} else if containsAny(inst, "louder", "volume") || (strings.Contains(inst, "boost") && containsAny(inst, "audio", "sound")) {
		ops = append(ops, op(OpVolume, map[string]any{"factor": 1.5}))
	}
	if containsAny(inst, "text", "title", "caption") {
		if content := quoted(raw); content != "" {
			params := map[string]any{"content": content, "start": 0.0, "position": AnchorCenter}
			switch {
			case strings.Contains(inst, "top"):
				params["position"] = AnchorTopLeft
			case strings.Contains(inst, "bottom"):
				params["position"] = AnchorBottomLeft
			}
			ops = append(ops, op(OpText, params))
		}
	}

	if len(ops) == 0 {
		ops = append(ops, op(OpUpscale, nil))
	}

	return Result{
		Operations: ops,
		Command:    CommandFromOperations(ops),
		Source:     SourceRuleBased,
	}
}

// speedFactor reads an "Nx" multiplier only alongside a playback keyword, so
// "upscale 2x" or "zoom in 2x" leave the speed alone.
func speedFactor(inst string) (float64, bool) {
	if !containsAny(inst, "speed", "fast", "slow", "play", "timelapse") {
		return 0, false
	}
	if m := multiplierRe.FindStringSubmatch(inst); m != nil {
		if f := parseFloat(m[1]); f > 0 && f <= MaxSpeed {
			return f, true
		}
	}
	switch {
	case containsAny(inst, "speed up", "speed it up", "faster", "fast forward", "timelapse"):
		return 2.0, true
	case containsAny(inst, "slow"):
		return 0.5, true
	}
	return 0, false
}

func quoted(s string) string {
	m := quotedRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	for _, g := range m[1:] {
		if g != "" {
			return strings.TrimSpace(g)
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
