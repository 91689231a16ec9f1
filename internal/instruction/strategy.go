package instruction

import (
	"context"
	"errors"
	"log/slog"

	"github.com/filmyai/filmy/internal/metrics"
)

// Strategy tries the LLM parser first and falls back to the rule parser on
// any error. Partial model output is discarded. The Source of the returned
// Result says which path produced it.
type Strategy struct {
	primary  *LLMParser
	fallback *RuleParser
	logger   *slog.Logger
}

// NewStrategy builds a Strategy. gen may be nil, in which case only the rule
// parser runs.
func NewStrategy(gen TextGenerator, logger *slog.Logger) *Strategy {
	s := &Strategy{
		fallback: NewRuleParser(),
		logger:   logger,
	}
	if gen != nil {
		s.primary = NewLLMParser(gen, logger)
	}
	return s
}

// LLMEnabled reports whether a model is consulted before the rules.
func (s *Strategy) LLMEnabled() bool {
	return s.primary != nil
}

// Parse never fails.
func (s *Strategy) Parse(ctx context.Context, instruction string) Result {
	if s.primary != nil {
		res, err := s.primary.Parse(ctx, instruction)
		if err == nil {
			metrics.RecordParse(string(SourceLLM))
			return res
		}

		reason := ReasonRequest
		var pe *ParseError
		if errors.As(err, &pe) {
			reason = pe.Reason
		}
		metrics.RecordFallback(reason)
		s.logger.Warn("llm parse failed, using rule-based parser", "reason", reason, "error", err)
	}

	res := s.fallback.Parse(instruction)
	metrics.RecordParse(string(SourceRuleBased))
	return res
}
