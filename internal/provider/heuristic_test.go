package provider

import "testing"

func TestHeuristic_Score_TitleMatchScoresFull(t *testing.T) {
	h := Heuristic{}

	// 単一キーワードのタイトル一致は満点
	score := h.Score("生成AIの新モデルが発表", "概要テキスト", []string{"生成AI"})
	if score != 100 {
		t.Errorf("score = %d, want 100", score)
	}
}

func TestHeuristic_Score_SummaryMatchScoresLower(t *testing.T) {
	h := Heuristic{}

	titleScore := h.Score("生成AIの新モデル", "", []string{"生成AI"})
	summaryScore := h.Score("新モデルの発表", "生成AIの進化について", []string{"生成AI"})

	if summaryScore >= titleScore {
		t.Errorf("要約一致(%d)はタイトル一致(%d)より低いスコアになるべき", summaryScore, titleScore)
	}
	// 15/25 * 100 = 60
	if summaryScore != 60 {
		t.Errorf("summaryScore = %d, want 60", summaryScore)
	}
}

func TestHeuristic_Score_NoMatchReturnsFloor(t *testing.T) {
	h := Heuristic{}

	score := h.Score("全く関係ない記事", "別の話題", []string{"生成AI"})
	if score != 20 {
		t.Errorf("不一致の最低スコア = %d, want 20", score)
	}
}

func TestHeuristic_Score_EmptyKeywordsReturnsFloor(t *testing.T) {
	h := Heuristic{}

	if score := h.Score("タイトル", "要約", nil); score != 20 {
		t.Errorf("score = %d, want 20", score)
	}
}

func TestHeuristic_Score_CaseInsensitive(t *testing.T) {
	h := Heuristic{}

	upper := h.Score("LLM breakthrough announced", "", []string{"llm"})
	lower := h.Score("llm breakthrough announced", "", []string{"LLM"})
	if upper != lower || upper != 100 {
		t.Errorf("大文字小文字を区別せず一致すべき: upper=%d lower=%d", upper, lower)
	}
}

func TestHeuristic_Score_Deterministic(t *testing.T) {
	h := Heuristic{}

	first := h.Score("生成AIと機械学習", "深層学習の応用", []string{"生成AI", "機械学習", "量子計算"})
	for i := 0; i < 10; i++ {
		if got := h.Score("生成AIと機械学習", "深層学習の応用", []string{"生成AI", "機械学習", "量子計算"}); got != first {
			t.Fatalf("同一入力で異なるスコア: %d != %d", got, first)
		}
	}
}

func TestHeuristic_Score_MultiWordPartialMatch(t *testing.T) {
	h := Heuristic{}

	// 複数語キーワードの一部のみ一致 → 部分点が入り最低点を上回る
	partial := h.Score("machine learning の話題", "", []string{"machine learning breakthrough"})
	none := h.Score("無関係", "", []string{"machine learning breakthrough"})
	if partial <= none {
		t.Errorf("部分一致(%d)は不一致(%d)より高いスコアになるべき", partial, none)
	}
}

func TestHeuristic_Expand_ReturnsSeedDeduped(t *testing.T) {
	h := Heuristic{}

	got := h.Expand([]string{"AI", "ai", " LLM ", ""})
	want := []string{"AI", "LLM"}
	if len(got) != len(want) {
		t.Fatalf("Expand = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expand[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
