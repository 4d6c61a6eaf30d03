package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if err := c.validateTranslation(); err != nil {
		return err
	}
	if err := c.validateReadwise(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTranscription() error {
	names := make(map[string]struct{}, len(c.Transcription.Servers))
	for i, server := range c.Transcription.Servers {
		if server.Name == "" {
			return fmt.Errorf("transcription.servers[%d].name must be set", i)
		}
		if _, dup := names[server.Name]; dup {
			return fmt.Errorf("transcription.servers: duplicate name %q", server.Name)
		}
		names[server.Name] = struct{}{}
		switch server.Kind {
		case ServerKindFunASR, ServerKindWhisper:
		default:
			return fmt.Errorf("transcription.servers[%q].kind must be funasr or whisper, got %q", server.Name, server.Kind)
		}
		if !server.Enabled {
			continue
		}
		if err := validateURL(server.URL); err != nil {
			return fmt.Errorf("transcription.servers[%q].url: %w", server.Name, err)
		}
		if server.Kind == ServerKindWhisper && server.APIKey == "" {
			return fmt.Errorf("transcription.servers[%q]: api_key required for whisper servers", server.Name)
		}
	}
	return nil
}

func (c *Config) validateTranslation() error {
	if _, err := language.Parse(c.Translation.TargetLanguage); err != nil {
		return fmt.Errorf("translation.target_language %q: %w", c.Translation.TargetLanguage, err)
	}
	if c.Translation.MinChunkSize > c.Translation.ChunkSize || c.Translation.ChunkSize > c.Translation.MaxChunkSize {
		return errors.New("translation chunk sizes must satisfy min_chunk_size <= chunk_size <= max_chunk_size")
	}
	names := make(map[string]struct{}, len(c.Translation.Providers))
	enabled := 0
	for i, provider := range c.Translation.Providers {
		if provider.Name == "" {
			return fmt.Errorf("translation.providers[%d].name must be set", i)
		}
		if _, dup := names[provider.Name]; dup {
			return fmt.Errorf("translation.providers: duplicate name %q", provider.Name)
		}
		names[provider.Name] = struct{}{}
		switch provider.Kind {
		case ProviderKindDeepLX, ProviderKindDeepL, ProviderKindOpenAI:
		default:
			return fmt.Errorf("translation.providers[%q].kind must be deeplx, deepl, or openai, got %q", provider.Name, provider.Kind)
		}
		if !provider.Enabled {
			continue
		}
		enabled++
		if err := validateURL(provider.URL); err != nil {
			return fmt.Errorf("translation.providers[%q].url: %w", provider.Name, err)
		}
		if provider.Kind != ProviderKindDeepLX && provider.APIKey == "" {
			return fmt.Errorf("translation.providers[%q]: api_key required for %s providers", provider.Name, provider.Kind)
		}
	}
	if c.Translation.Enabled && len(c.Translation.Providers) > 0 && enabled == 0 {
		return errors.New("translation.enabled is true but every provider is disabled")
	}
	return nil
}

func (c *Config) validateReadwise() error {
	if !c.Readwise.Enabled {
		return nil
	}
	if strings.TrimSpace(c.Readwise.Token) == "" {
		return errors.New("readwise.token must be set when readwise.enabled is true (or set READWISE_TOKEN)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("must be set")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
