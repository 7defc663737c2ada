package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/newswatch/internal/model"
)

func TestNewOpenAIProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{Model: "gpt-4o-mini"})
	if err == nil {
		t.Error("APIキー未設定でエラーが返されるべき")
	}
}

func TestNewOpenAIProvider_RequiresModel(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test"})
	if err == nil {
		t.Error("モデル未設定でエラーが返されるべき")
	}
}

func TestNewOpenAIProvider_DefaultName(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() がエラーを返した: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("Name() = %q, want %q", p.Name(), "openai")
	}
}

func TestNewOpenAIProvider_CustomName(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{
		Name:    "openrouter",
		APIKey:  "sk-or-test",
		Model:   "anthropic/claude-sonnet",
		BaseURL: "https://openrouter.ai/api/v1",
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() がエラーを返した: %v", err)
	}
	if p.Name() != "openrouter" {
		t.Errorf("Name() = %q, want %q", p.Name(), "openrouter")
	}
}

func TestOpenAIProvider_ClassifyTimeout(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() がエラーを返した: %v", err)
	}

	perr := p.classify(context.DeadlineExceeded)
	if perr.Kind != model.ProviderErrTimeout {
		t.Errorf("Kind = %q, want %q", perr.Kind, model.ProviderErrTimeout)
	}
}

func TestOpenAIProvider_ClassifyUnknownErrorAsUnavailable(t *testing.T) {
	p, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() がエラーを返した: %v", err)
	}

	perr := p.classify(errors.New("connection reset"))
	if perr.Kind != model.ProviderErrUnavailable {
		t.Errorf("Kind = %q, want %q", perr.Kind, model.ProviderErrUnavailable)
	}
}
