package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"CropDetServer/logger"
	"CropDetServer/registry"
)

// Service generates reports with whichever model is active in the registry.
type Service struct {
	reg  *registry.Registry[Info]
	opts Options
	// newGenerator is swapped in tests.
	newGenerator func(Info, Options) (Generator, error)
}

func NewService(reg *registry.Registry[Info], opts Options) *Service {
	return &Service{reg: reg, opts: opts, newGenerator: NewGenerator}
}

func (s *Service) Registry() *registry.Registry[Info] { return s.reg }

// GenerateReport runs the active model over analysis and validates its answer.
func (s *Service) GenerateReport(ctx context.Context, analysis map[string]any) (Report, error) {
	info, err := s.reg.GetActive()
	if err != nil {
		return Report{}, fmt.Errorf("no active LLM: %w", err)
	}
	prompt, err := BuildPrompt(analysis)
	if err != nil {
		return Report{}, err
	}
	gen, err := s.newGenerator(info, s.opts)
	if err != nil {
		return Report{}, err
	}
	raw, err := gen.Generate(ctx, SystemPrompt, prompt)
	if err != nil {
		logger.Log().Error("LLM call failed", zap.String("llm", info.ID), zap.Error(err))
		return Report{}, err
	}
	report, err := Decode(raw)
	if err != nil {
		logger.Log().Warn("LLM returned an unusable report", zap.String("llm", info.ID), zap.Error(err))
		return Report{}, err
	}
	return report, nil
}
