package provider

import (
	"context"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/video"
)

type fake struct {
	cap    Capabilities
	health error
}

func (fake) Generate(context.Context, *video.Script, video.Config) (*Job, error) {
	return nil, nil
}
func (fake) Status(context.Context, string) (*Job, error) { return nil, nil }
func (fake) Download(context.Context, string, string) (*video.Artifact, error) {
	return nil, nil
}
func (fake) Cancel(context.Context, string) error { return nil }
func (f fake) Healthcheck() error                 { return f.health }
func (f fake) Capabilities() Capabilities         { return f.cap }
func (fake) EstimateCost(*video.Script, video.Config) (CostEstimate, error) {
	return CostEstimate{Currency: "USD"}, nil
}

func getFactory(err error, health error, cap Capabilities) Factory {
	return func(*config.Config) (Provider, error) {
		if err != nil {
			return nil, err
		}
		return &fake{health: health, cap: cap}, nil
	}
}

func resetRegistry(m map[string]Factory, order []string) {
	factories = m
	providers = order
}
