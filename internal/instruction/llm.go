package instruction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// TextGenerator is the text-generation endpoint the LLM parser calls.
type TextGenerator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Failure reasons reported by ParseError.
const (
	ReasonRequest = "request"
	ReasonExtract = "extract"
	ReasonDecode  = "decode"
	ReasonEmpty   = "empty"
)

// ParseError describes why the model reply could not be turned into a plan.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llm parse (%s): %v", e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errNoJSON = errors.New("no JSON object or array in reply")

const systemPrompt = "You convert natural-language video editing instructions into a JSON edit plan. Output only JSON."

const commandSchema = `{
  "trim_start": number (seconds to cut from the beginning, optional),
  "trim_end": number (seconds to cut from the end, optional),
  "remove_noise": boolean,
  "speed": number (playback multiplier, 1.0 = unchanged, optional),
  "volume_boost": number (amplitude multiplier, 1.0 = unchanged, optional),
  "grayscale": boolean,
  "stabilize": boolean,
  "brightness": number between -1 and 1 (optional),
  "aspect": "16:9" | "9:16" | "4:3" | "1:1" (optional),
  "text_overlays": [
    {"content": string, "start": number, "end": number (omit to run to the end of the clip),
     "position": "center" | "top-left" | "top-right" | "bottom-left" | "bottom-right",
     "size": integer, "color": string}
  ]
}`

func buildPrompt(instruction string) string {
	var b strings.Builder
	b.WriteString("Convert the user's video editing instruction into a single JSON object matching this schema.\n")
	b.WriteString("Omit fields that the instruction does not ask for. Do not add commentary.\n\n")
	b.WriteString("Schema:\n")
	b.WriteString(commandSchema)
	b.WriteString("\n\nInstruction:\n")
	b.WriteString(instruction)
	b.WriteString("\n")
	return b.String()
}

// LLMParser asks a text generator for a plan. Any failure is returned; the
// caller decides whether to fall back.
type LLMParser struct {
	gen    TextGenerator
	logger *slog.Logger
}

func NewLLMParser(gen TextGenerator, logger *slog.Logger) *LLMParser {
	return &LLMParser{gen: gen, logger: logger}
}

func (p *LLMParser) Parse(ctx context.Context, instruction string) (Result, error) {
	reply, err := p.gen.Generate(ctx, systemPrompt, buildPrompt(instruction))
	if err != nil {
		return Result{}, &ParseError{Reason: ReasonRequest, Err: err}
	}

	raw, err := extractJSON(reply)
	if err != nil {
		return Result{}, &ParseError{Reason: ReasonExtract, Err: err}
	}

	var res Result
	switch raw[0] {
	case '{':
		res, err = decodeObject(raw)
	case '[':
		res, err = decodeArray(raw)
	}
	if err != nil {
		return Result{}, &ParseError{Reason: ReasonDecode, Err: err}
	}

	cmd, dropped := res.Command.Sanitize()
	if len(dropped) > 0 {
		p.logger.Warn("dropped invalid fields from model plan", "fields", dropped)
		res.Command = cmd
		res.Operations = OperationsFromCommand(cmd)
	}
	if len(res.Operations) == 0 || res.Command.IsEmpty() {
		return Result{}, &ParseError{Reason: ReasonEmpty, Err: errors.New("model returned an empty plan")}
	}

	res.Source = SourceLLM
	return res, nil
}

// decodeObject accepts either a Command or {"operations": [...]}.
func decodeObject(raw []byte) (Result, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Result{}, err
	}
	if ops, ok := probe["operations"]; ok && len(probe) == 1 {
		return decodeArray(ops)
	}

	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Result{}, err
	}
	return Result{Operations: OperationsFromCommand(cmd), Command: cmd}, nil
}

func decodeArray(raw []byte) (Result, error) {
	var ops []Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return Result{}, err
	}
	kept := ops[:0]
	for _, o := range ops {
		if o.Type == "" {
			continue
		}
		if o.Params == nil {
			o.Params = map[string]any{}
		}
		kept = append(kept, o)
	}
	cmd := CommandFromOperations(kept)
	return Result{Operations: OperationsFromCommand(cmd), Command: cmd}, nil
}

// extractJSON returns the first complete JSON object or array in s. Markdown
// code fences and surrounding prose are ignored.
func extractJSON(s string) ([]byte, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return nil, errNoJSON
	}

	if strings.HasPrefix(t, "```") {
		if i := strings.Index(t, "\n"); i >= 0 {
			t = t[i+1:]
		}
		if j := strings.LastIndex(t, "```"); j >= 0 {
			t = t[:j]
		}
		t = strings.TrimSpace(t)
	}

	for i := 0; i < len(t); i++ {
		if t[i] != '{' && t[i] != '[' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(t[i:])).Decode(&raw); err == nil {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", errNoJSON, truncate(t, 200))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
