package instruction

import (
	"fmt"
	"strconv"
)

// Operation types emitted by the parsers.
const (
	OpDenoise     = "denoise"
	OpStabilize   = "stabilize"
	OpColorAdjust = "color_adjust"
	OpCrop        = "crop"
	OpResize      = "resize"
	OpUpscale     = "upscale"
	OpGrayscale   = "grayscale"
	OpTrim        = "trim"
	OpSpeed       = "speed"
	OpVolume      = "volume"
	OpText        = "text"
)

// Source identifies which parser produced a Result.
type Source string

const (
	SourceLLM       Source = "llm"
	SourceRuleBased Source = "rule-based"
)

// Operation is a single tagged edit.
type Operation struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Result is the outcome of parsing one instruction. Operations and Command
// describe the same plan.
type Result struct {
	Operations []Operation `json:"operations"`
	Command    Command     `json:"command"`
	Source     Source      `json:"source"`
}

func op(t string, params map[string]any) Operation {
	if params == nil {
		params = map[string]any{}
	}
	return Operation{Type: t, Params: params}
}

// Types returns the operation tags in order.
func (r Result) Types() []string {
	out := make([]string, len(r.Operations))
	for i, o := range r.Operations {
		out[i] = o.Type
	}
	return out
}

// Has reports whether an operation of type t is present.
func (r Result) Has(t string) bool {
	for _, o := range r.Operations {
		if o.Type == t {
			return true
		}
	}
	return false
}

// CommandFromOperations folds operation tags into a Command. Unknown types
// and unusable params are ignored; later operations override earlier ones.
func CommandFromOperations(ops []Operation) Command {
	var cmd Command
	for _, o := range ops {
		switch o.Type {
		case OpDenoise:
			cmd.RemoveNoise = true
		case OpStabilize:
			cmd.Stabilize = true
		case OpColorAdjust:
			if v, ok := number(o.Params["brightness"]); ok {
				cmd.Brightness = float(v)
			}
		case OpCrop:
			if a, ok := o.Params["aspect"].(string); ok && a != "" {
				cmd.Aspect = a
			} else {
				cmd.Resize = true
			}
		case OpResize:
			cmd.Resize = true
		case OpUpscale:
			cmd.Upscale = true
		case OpGrayscale:
			cmd.Grayscale = true
		case OpTrim:
			if v, ok := number(o.Params["start"]); ok {
				cmd.TrimStart = float(v)
			}
			if v, ok := number(o.Params["end"]); ok {
				cmd.TrimEnd = float(v)
			}
		case OpSpeed:
			if v, ok := number(o.Params["factor"]); ok {
				cmd.Speed = float(v)
			}
		case OpVolume:
			if v, ok := number(o.Params["factor"]); ok {
				cmd.VolumeBoost = float(v)
			}
		case OpText:
			content, _ := o.Params["content"].(string)
			if content == "" {
				continue
			}
			overlay := TextOverlay{Content: content, Position: AnchorCenter}
			if v, ok := number(o.Params["start"]); ok {
				overlay.Start = v
			}
			if v, ok := number(o.Params["end"]); ok {
				overlay.End = float(v)
			}
			if p, ok := o.Params["position"].(string); ok && p != "" {
				overlay.Position = p
			}
			if v, ok := number(o.Params["size"]); ok {
				overlay.Size = int(v)
			}
			if c, ok := o.Params["color"].(string); ok {
				overlay.Color = c
			}
			cmd.TextOverlays = append(cmd.TextOverlays, overlay)
		}
	}
	return cmd
}

// OperationsFromCommand lists the operations a Command implies, in editor
// step order.
func OperationsFromCommand(cmd Command) []Operation {
	var ops []Operation
	if cmd.TrimStart != nil || cmd.TrimEnd != nil {
		params := map[string]any{}
		if cmd.TrimStart != nil {
			params["start"] = *cmd.TrimStart
		}
		if cmd.TrimEnd != nil {
			params["end"] = *cmd.TrimEnd
		}
		ops = append(ops, op(OpTrim, params))
	}
	if cmd.RemoveNoise {
		ops = append(ops, op(OpDenoise, nil))
	}
	if cmd.VolumeBoost != nil {
		ops = append(ops, op(OpVolume, map[string]any{"factor": *cmd.VolumeBoost}))
	}
	if cmd.Stabilize {
		ops = append(ops, op(OpStabilize, nil))
	}
	if cmd.Brightness != nil {
		ops = append(ops, op(OpColorAdjust, map[string]any{"brightness": *cmd.Brightness}))
	}
	if cmd.Aspect != "" {
		ops = append(ops, op(OpCrop, map[string]any{"aspect": cmd.Aspect}))
	}
	if cmd.Resize {
		ops = append(ops, op(OpResize, nil))
	}
	if cmd.Upscale {
		ops = append(ops, op(OpUpscale, nil))
	}
	if cmd.Grayscale {
		ops = append(ops, op(OpGrayscale, nil))
	}
	if cmd.Speed != nil {
		ops = append(ops, op(OpSpeed, map[string]any{"factor": *cmd.Speed}))
	}
	for _, o := range cmd.TextOverlays {
		params := map[string]any{
			"content":  o.Content,
			"start":    o.Start,
			"position": o.Position,
		}
		if o.End != nil {
			params["end"] = *o.End
		}
		ops = append(ops, op(OpText, params))
	}
	return ops
}

// number accepts the shapes JSON decoding and hand-built params produce.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func (o Operation) String() string {
	if len(o.Params) == 0 {
		return o.Type
	}
	return fmt.Sprintf("%s%v", o.Type, o.Params)
}
