package editor

import (
	"maps"
	"slices"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Filter is one ffmpeg filter in a chain.
type Filter struct {
	Name   string
	Args   ffmpeg.Args
	KwArgs ffmpeg.KwArgs
}

// Layer is a rasterized overlay composited over [Start, End) of the output
// timeline at pixel offset (X, Y).
type Layer struct {
	Image  string
	X, Y   int
	Start  float64
	End    float64
	Width  int
	Height int
}

// State describes an edit in progress. Steps never modify a State; they
// return a new one, so the slices of a State are never shared with its
// successor.
type State struct {
	Source string

	// Input window read from Source, in source seconds.
	Start   float64
	Span    float64
	Trimmed bool

	// Current output timeline length.
	Duration float64

	Width    int
	Height   int
	HasAudio bool

	// AudioPath replaces the source audio when set. It already covers the
	// input window.
	AudioPath string

	VideoFilters []Filter
	AudioFilters []Filter
	Layers       []Layer
	Applied      []string
}

func newState(src string, probe *ProbeResult) State {
	return State{
		Source:   src,
		Span:     probe.Duration,
		Duration: probe.Duration,
		Width:    probe.Width,
		Height:   probe.Height,
		HasAudio: probe.HasAudio,
	}
}

func (s State) clone() State {
	out := s
	out.VideoFilters = cloneFilters(s.VideoFilters)
	out.AudioFilters = cloneFilters(s.AudioFilters)
	out.Layers = slices.Clone(s.Layers)
	out.Applied = slices.Clone(s.Applied)
	return out
}

func cloneFilters(in []Filter) []Filter {
	if in == nil {
		return nil
	}
	out := make([]Filter, len(in))
	for i, f := range in {
		out[i] = Filter{Name: f.Name, Args: slices.Clone(f.Args), KwArgs: maps.Clone(f.KwArgs)}
	}
	return out
}

func (s State) withVideoFilter(f Filter) State {
	out := s.clone()
	out.VideoFilters = append(out.VideoFilters, f)
	return out
}

func (s State) withAudioFilter(f Filter) State {
	out := s.clone()
	out.AudioFilters = append(out.AudioFilters, f)
	return out
}

func (s State) withApplied(name string) State {
	out := s.clone()
	out.Applied = append(out.Applied, name)
	return out
}

// hasVideoFilter reports whether a filter named name is already queued.
func (s State) hasVideoFilter(name string) bool {
	for _, f := range s.VideoFilters {
		if f.Name == name {
			return true
		}
	}
	return false
}
