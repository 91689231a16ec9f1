package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"strconv"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/filmyai/filmy/internal/instruction"
	"github.com/filmyai/filmy/internal/metrics"
)

const (
	defaultTextSize = 48
	glyphPadding    = 2
)

var namedColors = map[string]color.RGBA{
	"white":  {255, 255, 255, 255},
	"black":  {0, 0, 0, 255},
	"red":    {230, 40, 40, 255},
	"green":  {40, 200, 70, 255},
	"blue":   {40, 90, 230, 255},
	"yellow": {250, 220, 40, 255},
	"orange": {250, 150, 30, 255},
	"purple": {150, 60, 200, 255},
	"pink":   {245, 120, 180, 255},
	"gray":   {128, 128, 128, 255},
	"grey":   {128, 128, 128, 255},
	"cyan":   {40, 220, 230, 255},
}

func overlayStep(ctx context.Context, env *stepEnv, st State, cmd instruction.Command) (State, error) {
	if len(cmd.TextOverlays) == 0 {
		return st, nil
	}

	out := st.clone()
	added := 0
	for i, o := range cmd.TextOverlays {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		layer, err := env.renderOverlay(i, o, out)
		if err != nil {
			env.logger.Warn("text overlay skipped", "index", i, "reason", err.Error())
			metrics.RecordStepSkipped("overlay")
			continue
		}
		out.Layers = append(out.Layers, layer)
		added++
	}
	if added == 0 {
		return st, nil
	}
	return out.withApplied(fmt.Sprintf("text_overlay x%d", added)), nil
}

// overlayWindow clamps an overlay's interval to the timeline. A nil End
// runs to the end of the clip; an explicit window with start >= end is empty.
func overlayWindow(o instruction.TextOverlay, duration float64) (float64, float64, bool) {
	end := duration
	if o.End != nil {
		end = *o.End
	}
	if math.IsNaN(o.Start) || math.IsNaN(end) || o.Start >= end {
		return 0, 0, false
	}
	start := clamp(o.Start, 0, duration)
	end = clamp(end, 0, duration)
	return start, end, start < end
}

func (env *stepEnv) renderOverlay(i int, o instruction.TextOverlay, st State) (Layer, error) {
	start, end, ok := overlayWindow(o, st.Duration)
	if !ok {
		return Layer{}, fmt.Errorf("empty window starting at %v on %ss timeline", o.Start, fmtSeconds(st.Duration))
	}

	img, err := rasterizeText(o, st.Width, st.Height)
	if err != nil {
		return Layer{}, err
	}

	path := env.ws.path(fmt.Sprintf("overlay_%02d.png", i))
	if err := writePNG(path, img); err != nil {
		return Layer{}, err
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	x, y := anchorPosition(o.Position, st.Width, st.Height, w, h)
	return Layer{Image: path, X: x, Y: y, Start: start, End: end, Width: w, Height: h}, nil
}

// rasterizeText draws the overlay text on a transparent canvas sized to its
// bounding box, scaled to the requested pixel height and shrunk to fit
// inside maxW x maxH.
func rasterizeText(o instruction.TextOverlay, maxW, maxH int) (*image.RGBA, error) {
	text := strings.TrimSpace(o.Content)
	if text == "" {
		return nil, errors.New("empty overlay text")
	}
	col, err := parseColor(o.Color)
	if err != nil {
		return nil, err
	}

	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	textW := d.MeasureString(text).Ceil()
	srcW := textW + 2*glyphPadding + 1
	srcH := face.Height + 2*glyphPadding + 1

	src := image.NewRGBA(image.Rect(0, 0, srcW, srcH))
	d.Dst = src
	d.Src = image.NewUniform(color.RGBA{0, 0, 0, 160})
	d.Dot = fixed.P(glyphPadding+1, glyphPadding+face.Ascent+1)
	d.DrawString(text)
	d.Src = image.NewUniform(col)
	d.Dot = fixed.P(glyphPadding, glyphPadding+face.Ascent)
	d.DrawString(text)

	size := o.Size
	if size <= 0 {
		size = defaultTextSize
	}
	scale := float64(size) / float64(face.Height)
	if maxW > 0 && float64(srcW)*scale > float64(maxW) {
		scale = float64(maxW) / float64(srcW)
	}
	if maxH > 0 && float64(srcH)*scale > float64(maxH) {
		scale = float64(maxH) / float64(srcH)
	}
	w := int(math.Floor(float64(srcW) * scale))
	h := int(math.Floor(float64(srcH) * scale))
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("overlay too small to render (%dx%d)", w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst, nil
}

// anchorPosition places a w x h box inside a frameW x frameH frame. Unknown
// anchors fall back to center. The result is clamped to the frame.
func anchorPosition(anchor string, frameW, frameH, w, h int) (int, int) {
	margin := frameH / 30
	if margin < 8 {
		margin = 8
	}
	var x, y int
	switch anchor {
	case instruction.AnchorTopLeft:
		x, y = margin, margin
	case instruction.AnchorTopRight:
		x, y = frameW-w-margin, margin
	case instruction.AnchorBottomLeft:
		x, y = margin, frameH-h-margin
	case instruction.AnchorBottomRight:
		x, y = frameW-w-margin, frameH-h-margin
	default:
		x, y = (frameW-w)/2, (frameH-h)/2
	}
	if x+w > frameW {
		x = frameW - w
	}
	if y+h > frameH {
		y = frameH - h
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return x, y
}

func parseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return namedColors["white"], nil
	}
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("unknown color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("unknown color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create overlay image: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode overlay image: %w", err)
	}
	return f.Close()
}
