package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/hitoshi/newswatch/internal/model"
)

// OllamaProvider はローカルで動作するOllamaのAIProvider実装。
// /api/generate エンドポイントを使用する。
type OllamaProvider struct {
	name       string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaProvider はOllamaProviderの新しいインスタンスを生成する。
// httpClientがnilの場合はhttp.DefaultClientを使用する。
func NewOllamaProvider(baseURL, modelName string, httpClient *http.Client) *OllamaProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OllamaProvider{
		name:       "ollama",
		baseURL:    baseURL,
		model:      modelName,
		httpClient: httpClient,
	}
}

// Name はプロバイダーの識別名を返す。
func (p *OllamaProvider) Name() string {
	return p.name
}

// Expand はローカルLLMでキーワード展開を行う。
// 応答はカンマ区切りのキーワードリストとしてパースする。
func (p *OllamaProvider) Expand(ctx context.Context, keywords []string) ([]string, error) {
	response, err := p.generate(ctx, buildExpandPrompt(keywords))
	if err != nil {
		return nil, err
	}

	// JSON形式の応答を先に試し、だめならリスト形式としてパースする
	if suggestions, jsonErr := parseKeywordJSON(response); jsonErr == nil {
		return suggestions, nil
	}

	suggestions := parseKeywordList(response)
	if len(suggestions) == 0 {
		return nil, model.NewProviderError(p.name, model.ProviderErrMalformedResponse,
			fmt.Errorf("応答からキーワードを抽出できませんでした: %q", response))
	}
	return suggestions, nil
}

// Score はローカルLLMで記事の関連度を評価する。
func (p *OllamaProvider) Score(ctx context.Context, article model.Article, keywords []string) (int, error) {
	response, err := p.generate(ctx, buildScorePrompt(article, keywords))
	if err != nil {
		return 0, err
	}

	score, ok := extractScore(response)
	if !ok {
		return 0, model.NewProviderError(p.name, model.ProviderErrMalformedResponse,
			fmt.Errorf("応答に数値が含まれていません: %q", response))
	}
	return score, nil
}

// generate は /api/generate に1回のプロンプトを送信して応答テキストを返す。
func (p *OllamaProvider) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":  p.model,
		"prompt": prompt,
		"stream": false,
	})
	if err != nil {
		return "", model.NewProviderError(p.name, model.ProviderErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", model.NewProviderError(p.name, model.ProviderErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", model.NewProviderError(p.name, model.ProviderErrTimeout, err)
		}
		return "", model.NewProviderError(p.name, model.ProviderErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// 以下で処理を続行
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", model.NewProviderError(p.name, model.ProviderErrRateLimited,
			fmt.Errorf("ollamaがステータス %d を返しました", resp.StatusCode))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", model.NewProviderError(p.name, model.ProviderErrAuth,
			fmt.Errorf("ollamaがステータス %d を返しました", resp.StatusCode))
	default:
		return "", model.NewProviderError(p.name, model.ProviderErrUnavailable,
			fmt.Errorf("ollamaがステータス %d を返しました", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", model.NewProviderError(p.name, model.ProviderErrMalformedResponse, err)
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", model.NewProviderError(p.name, model.ProviderErrMalformedResponse, err)
	}
	return result.Response, nil
}
