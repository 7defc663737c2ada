package provider

import "strings"

// HeuristicName はヒューリスティックフォールバックのプロバイダー識別名。
const HeuristicName = "heuristic"

// Heuristic はAIを使わない決定的なキーワードマッチングによる評価器。
// フォールバックチェーンの最終段として必ず成功することを保証する。
type Heuristic struct{}

// Score はキーワードの部分一致に基づいて記事の関連度を0〜100で評価する。
// タイトル一致は1キーワードあたり25点、要約一致は15点、複数語キーワードは
// 部分一致の割合に応じて最大10点を加算し、0〜100に正規化する。
// どの記事にも最低20点を与える（完全な無関係は判定できないため）。
func (Heuristic) Score(title, summary string, keywords []string) int {
	if len(keywords) == 0 {
		return 20
	}

	titleLower := strings.ToLower(title)
	summaryLower := strings.ToLower(summary)
	text := titleLower + " " + summaryLower

	var score float64
	totalPossible := float64(len(keywords) * 25)

	for _, keyword := range keywords {
		kw := strings.ToLower(strings.TrimSpace(keyword))
		if kw == "" {
			continue
		}

		if strings.Contains(titleLower, kw) {
			score += 25
		} else if strings.Contains(summaryLower, kw) {
			score += 15
		}

		// 複数語キーワードは語単位の部分一致を加点
		words := strings.Fields(kw)
		if len(words) > 1 {
			matches := 0
			for _, w := range words {
				if strings.Contains(text, w) {
					matches++
				}
			}
			score += float64(matches) / float64(len(words)) * 10
		}
	}

	normalized := score / totalPossible * 100
	if normalized > 100 {
		normalized = 100
	}
	if normalized < 20 {
		return 20
	}
	return int(normalized)
}

// Expand はシードキーワードをそのまま返す。
// 展開候補は提案しないが、シード自体が常に利用可能な結果となるため
// チェーンの「必ず終了して使える結果を返す」保証を満たす。
func (Heuristic) Expand(seed []string) []string {
	return dedupeKeywords(seed)
}

// dedupeKeywords は大文字小文字を区別せずにキーワードを重複排除する。
// 先に現れたキーワードの表記と相対順序を保持する。
func dedupeKeywords(keywords []string) []string {
	seen := make(map[string]bool, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kw)
	}
	return out
}
