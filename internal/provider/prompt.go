package provider

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/newswatch/internal/model"
)

// maxSummaryPromptLen はプロンプトに含める要約の最大文字数。
const maxSummaryPromptLen = 300

var digitsPattern = regexp.MustCompile(`\d+`)

// buildExpandPrompt はキーワード展開用のプロンプトを構築する。
// 応答はJSON形式 {"keywords": [...]} を要求する。
func buildExpandPrompt(keywords []string) string {
	return fmt.Sprintf(`あなたはニュース監視のためのキーワード展開の専門家です。

元のキーワード: %s

これらの用語に関連するニュースを監視するための追加キーワードを生成してください。

ルール:
1. 追加キーワードを10個まで提案する
2. 同義語、関連語、表記ゆれ、同じ意味分野の語を含める
3. 記者が使う用語を考慮する
4. 一般的すぎるキーワードは避ける

JSON形式でのみ回答してください:
{"keywords": ["語1", "語2", "語3"]}`, strings.Join(keywords, ", "))
}

// buildScorePrompt は関連度評価用のプロンプトを構築する。
// 応答は0〜100の数値のみを要求する。
func buildScorePrompt(article model.Article, keywords []string) string {
	summary := article.Summary
	if utf8.RuneCountInString(summary) > maxSummaryPromptLen {
		summary = string([]rune(summary)[:maxSummaryPromptLen])
	}
	return fmt.Sprintf(`このキーワードに対する記事の関連度を0から100の尺度で評価してください。

キーワード: %s
タイトル: %s
内容: %s

0から100の数値のみで回答してください。`,
		strings.Join(keywords, ", "), article.Title, summary)
}

// extractScore は応答テキストから最初の整数を抽出し、0〜100に丸める。
// 数値が見つからない場合はfalseを返す。
func extractScore(s string) (int, bool) {
	match := digitsPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	score, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, true
}

// stripCodeFence はマークダウンのコードフェンスを除去する。
// LLMがJSON応答を```json ... ```で囲む場合に対応する。
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

// parseKeywordJSON は {"keywords": [...]} 形式の応答をパースする。
func parseKeywordJSON(s string) ([]string, error) {
	var payload struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(s)), &payload); err != nil {
		return nil, fmt.Errorf("キーワード応答のパースに失敗しました: %w", err)
	}

	var out []string
	for _, kw := range payload.Keywords {
		kw = strings.TrimSpace(kw)
		if kw != "" {
			out = append(out, kw)
		}
	}
	return out, nil
}

// parseKeywordList はカンマまたは改行区切りのキーワードリストをパースする。
// JSONを返さないプロバイダー（ローカルLLMなど）の応答に使用する。
func parseKeywordList(s string) []string {
	fields := strings.FieldsFunc(stripCodeFence(s), func(r rune) bool {
		return r == ',' || r == '\n'
	})

	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(strings.Trim(strings.TrimSpace(f), `"-*`))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
