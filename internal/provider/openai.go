package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hitoshi/newswatch/internal/model"
)

// OpenAIConfig はOpenAI互換プロバイダーの設定。
// BaseURLを指定するとOpenRouterなどのOpenAI互換APIにも接続できる。
type OpenAIConfig struct {
	Name    string
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAIProvider は公式openai-go SDKを使用したAIProviderの実装。
type OpenAIProvider struct {
	name   string
	model  string
	client openai.Client
}

// NewOpenAIProvider はOpenAIProviderの新しいインスタンスを生成する。
// APIキーが未設定の場合はエラーを返す。
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIProvider{
		name:   name,
		model:  cfg.Model,
		client: openai.NewClient(opts...),
	}, nil
}

// Name はプロバイダーの識別名を返す。
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Expand はチャット補完でキーワード展開を行う。
// 応答はJSON形式 {"keywords": [...]} を期待する。
func (p *OpenAIProvider) Expand(ctx context.Context, keywords []string) ([]string, error) {
	content, err := p.complete(ctx, buildExpandPrompt(keywords))
	if err != nil {
		return nil, err
	}

	suggestions, err := parseKeywordJSON(content)
	if err != nil {
		return nil, model.NewProviderError(p.name, model.ProviderErrMalformedResponse, err)
	}
	return suggestions, nil
}

// Score はチャット補完で記事の関連度を評価する。
// 応答から最初の整数を抽出し、0〜100に丸める。
func (p *OpenAIProvider) Score(ctx context.Context, article model.Article, keywords []string) (int, error) {
	content, err := p.complete(ctx, buildScorePrompt(article, keywords))
	if err != nil {
		return 0, err
	}

	score, ok := extractScore(content)
	if !ok {
		return 0, model.NewProviderError(p.name, model.ProviderErrMalformedResponse,
			fmt.Errorf("応答に数値が含まれていません: %q", content))
	}
	return score, nil
}

// complete はチャット補完を1回実行して応答テキストを返す。
func (p *OpenAIProvider) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", model.NewProviderError(p.name, model.ProviderErrMalformedResponse,
			fmt.Errorf("応答にchoicesが含まれていません"))
	}
	return resp.Choices[0].Message.Content, nil
}

// classify はopenai-goのエラーを*model.ProviderErrorに分類する。
func (p *OpenAIProvider) classify(err error) *model.ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewProviderError(p.name, model.ProviderErrTimeout, err)
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return model.NewProviderError(p.name, model.ProviderErrAuth, err)
		case apierr.StatusCode == http.StatusTooManyRequests:
			return model.NewProviderError(p.name, model.ProviderErrRateLimited, err)
		case apierr.StatusCode >= 500:
			return model.NewProviderError(p.name, model.ProviderErrUnavailable, err)
		}
	}

	return model.NewProviderError(p.name, model.ProviderErrUnavailable, err)
}
