// Package instruction turns free-text editing instructions into a structured
// Command. A rule-based keyword matcher is always available; an LLM-backed
// parser is tried first when configured and falls back to the rules on any
// failure.
package instruction

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidCommand is returned when a command carries values the editor
// cannot apply.
var ErrInvalidCommand = errors.New("invalid command")

const (
	MaxSpeed  = 100.0
	MaxVolume = 20.0
)

// Anchor names for text overlay placement.
const (
	AnchorCenter      = "center"
	AnchorTopLeft     = "top-left"
	AnchorTopRight    = "top-right"
	AnchorBottomLeft  = "bottom-left"
	AnchorBottomRight = "bottom-right"
)

// Command is a sparse edit plan. Nil pointers and false flags mean the
// corresponding step is a no-op.
type Command struct {
	TrimStart    *float64      `json:"trim_start,omitempty"`
	TrimEnd      *float64      `json:"trim_end,omitempty"`
	RemoveNoise  bool          `json:"remove_noise,omitempty"`
	Speed        *float64      `json:"speed,omitempty"`
	VolumeBoost  *float64      `json:"volume_boost,omitempty"`
	Grayscale    bool          `json:"grayscale,omitempty"`
	TextOverlays []TextOverlay `json:"text_overlays,omitempty"`

	Stabilize  bool     `json:"stabilize,omitempty"`
	Brightness *float64 `json:"brightness,omitempty"`
	Aspect     string   `json:"aspect,omitempty"`
	Resize     bool     `json:"resize,omitempty"`
	Upscale    bool     `json:"upscale,omitempty"`
}

// TextOverlay is a timed caption. A nil End runs to the end of the clip.
type TextOverlay struct {
	Content  string   `json:"content"`
	Start    float64  `json:"start"`
	End      *float64 `json:"end,omitempty"`
	Position string   `json:"position,omitempty"`
	Size     int      `json:"size,omitempty"`
	Color    string   `json:"color,omitempty"`
}

// IsEmpty reports whether the command would leave the clip untouched apart
// from re-encoding.
func (c Command) IsEmpty() bool {
	return c.TrimStart == nil && c.TrimEnd == nil && !c.RemoveNoise &&
		c.Speed == nil && c.VolumeBoost == nil && !c.Grayscale &&
		len(c.TextOverlays) == 0 && !c.Stabilize && c.Brightness == nil &&
		c.Aspect == "" && !c.Resize && !c.Upscale
}

// Validate applies the strict rules used for commands submitted directly by
// a caller.
func (c Command) Validate() error {
	var problems []string

	if c.TrimStart != nil {
		if !finite(*c.TrimStart) || *c.TrimStart < 0 {
			problems = append(problems, "trim_start must be a non-negative number")
		}
	}
	if c.TrimEnd != nil {
		if !finite(*c.TrimEnd) || *c.TrimEnd < 0 {
			problems = append(problems, "trim_end must be a non-negative number")
		}
	}
	if c.Speed != nil {
		if !finite(*c.Speed) || *c.Speed <= 0 || *c.Speed > MaxSpeed {
			problems = append(problems, fmt.Sprintf("speed must be in (0, %g]", MaxSpeed))
		}
	}
	if c.VolumeBoost != nil {
		if !finite(*c.VolumeBoost) || *c.VolumeBoost <= 0 || *c.VolumeBoost > MaxVolume {
			problems = append(problems, fmt.Sprintf("volume_boost must be in (0, %g]", MaxVolume))
		}
	}
	if c.Brightness != nil {
		if !finite(*c.Brightness) || *c.Brightness < -1 || *c.Brightness > 1 {
			problems = append(problems, "brightness must be in [-1, 1]")
		}
	}
	if c.Aspect != "" && !validAspect(c.Aspect) {
		problems = append(problems, fmt.Sprintf("unsupported aspect %q", c.Aspect))
	}
	for i, o := range c.TextOverlays {
		if strings.TrimSpace(o.Content) == "" {
			problems = append(problems, fmt.Sprintf("text_overlays[%d]: content is required", i))
		}
		if !finite(o.Start) || (o.End != nil && !finite(*o.End)) {
			problems = append(problems, fmt.Sprintf("text_overlays[%d]: start and end must be numbers", i))
		}
		if o.Position != "" && !validAnchor(o.Position) {
			problems = append(problems, fmt.Sprintf("text_overlays[%d]: unknown position %q", i, o.Position))
		}
		if o.Size < 0 {
			problems = append(problems, fmt.Sprintf("text_overlays[%d]: size must not be negative", i))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCommand, strings.Join(problems, "; "))
	}
	return nil
}

// Sanitize returns a copy with every field Validate would reject removed,
// plus the list of dropped fields. Used for model output, where a bad field
// should not cost the caller the rest of the plan.
func (c Command) Sanitize() (Command, []string) {
	out := c
	out.TextOverlays = nil
	var dropped []string

	if out.TrimStart != nil && (!finite(*out.TrimStart) || *out.TrimStart < 0) {
		out.TrimStart = nil
		dropped = append(dropped, "trim_start")
	}
	if out.TrimEnd != nil && (!finite(*out.TrimEnd) || *out.TrimEnd < 0) {
		out.TrimEnd = nil
		dropped = append(dropped, "trim_end")
	}
	if out.Speed != nil && (!finite(*out.Speed) || *out.Speed <= 0 || *out.Speed > MaxSpeed) {
		out.Speed = nil
		dropped = append(dropped, "speed")
	}
	if out.VolumeBoost != nil && (!finite(*out.VolumeBoost) || *out.VolumeBoost <= 0 || *out.VolumeBoost > MaxVolume) {
		out.VolumeBoost = nil
		dropped = append(dropped, "volume_boost")
	}
	if out.Brightness != nil && (!finite(*out.Brightness) || *out.Brightness < -1 || *out.Brightness > 1) {
		out.Brightness = nil
		dropped = append(dropped, "brightness")
	}
	if out.Aspect != "" && !validAspect(out.Aspect) {
		out.Aspect = ""
		dropped = append(dropped, "aspect")
	}
	for i, o := range c.TextOverlays {
		if strings.TrimSpace(o.Content) == "" || !finite(o.Start) || (o.End != nil && !finite(*o.End)) || o.Size < 0 {
			dropped = append(dropped, fmt.Sprintf("text_overlays[%d]", i))
			continue
		}
		if o.Position != "" && !validAnchor(o.Position) {
			o.Position = AnchorCenter
		}
		out.TextOverlays = append(out.TextOverlays, o)
	}
	return out, dropped
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func validAnchor(p string) bool {
	switch p {
	case AnchorCenter, AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight:
		return true
	}
	return false
}

func validAspect(a string) bool {
	switch a {
	case "16:9", "9:16", "4:3", "1:1":
		return true
	}
	return false
}

func float(f float64) *float64 { return &f }
