package main

import (
	"errors"
	"flag"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cexll/agentd/pkg/config"
)

// configCommand prints the effective configuration after defaulting and
// normalization, so operators can see what the agent will actually run with.
func configCommand(argv []string, configDir string, streams ioStreams) error {
	fs := flag.NewFlagSet("agentd config", flag.ContinueOnError)
	fs.SetOutput(streams.err)
	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Mirror != nil && cfg.Mirror.Token != "" {
		cfg.Mirror.Token = "<redacted>"
	}
	redactProviders(&cfg.Providers)

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(streams.out, string(out))
	return nil
}

func redactProviders(p *config.ProvidersBlock) {
	for _, creds := range []*config.ProviderCredentials{p.OpenAI, p.OpenRouter, p.Anthropic} {
		if creds != nil && creds.APIKey != "" {
			creds.APIKey = "<redacted>"
		}
	}
}
