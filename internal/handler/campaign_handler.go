// Package handler はキャンペーン監視用の読み取りAPIハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newswatch/internal/model"
)

// CampaignStoreInterface はキャンペーンハンドラーが必要とするストアインターフェース。
// repository.CampaignStoreのサブセットとして定義する。
type CampaignStoreInterface interface {
	// List は全キャンペーンの一覧を取得する。
	List(ctx context.Context) ([]*model.Campaign, error)
	// FindByID は指定IDのキャンペーンを取得する。
	FindByID(ctx context.Context, id string) (*model.Campaign, error)
	// UpdateStatus はキャンペーンの状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error
	// ListReports は指定キャンペーンの実行レポートを新しい順に取得する。
	ListReports(ctx context.Context, campaignID string, limit int) ([]*model.RunReport, error)
}

// CampaignHandler はキャンペーン管理のHTTPハンドラー。
type CampaignHandler struct {
	store CampaignStoreInterface
}

// NewCampaignHandler はCampaignHandlerを生成する。
func NewCampaignHandler(store CampaignStoreInterface) *CampaignHandler {
	return &CampaignHandler{store: store}
}

// campaignResponse はキャンペーン情報のAPIレスポンス。
type campaignResponse struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Keywords           []string        `json:"keywords"`
	Frequency          string          `json:"frequency"`
	MaxArticles        int             `json:"max_articles"`
	RelevanceThreshold int             `json:"relevance_threshold"`
	Sinks              []sinkResponse  `json:"sinks"`
	Status             string          `json:"status"`
	LastRunAt          *time.Time      `json:"last_run_at"`
	TotalArticles      int             `json:"total_articles"`
	LastRunReport      *reportResponse `json:"last_run_report,omitempty"`
}

// sinkResponse は出力先参照のAPIレスポンス。
type sinkResponse struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

// reportResponse は実行レポートのAPIレスポンス。
type reportResponse struct {
	ID               string    `json:"id"`
	CampaignID       string    `json:"campaign_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	DurationMs       float64   `json:"duration_ms"`
	ArticlesFetched  int       `json:"articles_fetched"`
	ArticlesAccepted int       `json:"articles_accepted"`
	FailedSources    []string  `json:"failed_sources"`
	FailedSinks      []string  `json:"failed_sinks"`
	AIProvider       string    `json:"ai_provider"`
	Outcome          string    `json:"outcome"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListCampaigns は全キャンペーンの一覧を返す。
// GET /api/campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := h.store.List(r.Context())
	if err != nil {
		handleStoreError(w, err)
		return
	}

	responses := make([]campaignResponse, 0, len(campaigns))
	for _, c := range campaigns {
		responses = append(responses, toCampaignResponse(c))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// GetCampaign はキャンペーン詳細を返す。
// GET /api/campaigns/:id
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	campaign, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		handleStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCampaignResponse(campaign))
}

// GetLastReport は直近の実行レポートを返す。
// GET /api/campaigns/:id/report
func (h *CampaignHandler) GetLastReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// キャンペーンの存在確認を兼ねてFindByIDを呼ぶ
	if _, err := h.store.FindByID(r.Context(), id); err != nil {
		handleStoreError(w, err)
		return
	}

	reports, err := h.store.ListReports(r.Context(), id, 1)
	if err != nil {
		handleStoreError(w, err)
		return
	}

	if len(reports) == 0 {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "REPORT_NOT_FOUND",
			Message:  "実行レポートがまだありません。",
			Category: "campaign",
			Action:   "キャンペーンの初回実行をお待ちください。",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toReportResponse(reports[0]))
}

// ListReports は実行レポートの履歴を新しい順に返す。
// GET /api/campaigns/:id/reports
func (h *CampaignHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.store.FindByID(r.Context(), id); err != nil {
		handleStoreError(w, err)
		return
	}

	reports, err := h.store.ListReports(r.Context(), id, 0)
	if err != nil {
		handleStoreError(w, err)
		return
	}

	responses := make([]reportResponse, 0, len(reports))
	for _, report := range reports {
		responses = append(responses, toReportResponse(report))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// PauseCampaign はキャンペーンを一時停止する。冪等。
// POST /api/campaigns/:id/pause
func (h *CampaignHandler) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, model.CampaignStatusPaused)
}

// ResumeCampaign は一時停止中のキャンペーンを再開する。冪等。
// POST /api/campaigns/:id/resume
func (h *CampaignHandler) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	h.updateStatus(w, r, model.CampaignStatusActive)
}

func (h *CampaignHandler) updateStatus(w http.ResponseWriter, r *http.Request, status model.CampaignStatus) {
	id := chi.URLParam(r, "id")

	if err := h.store.UpdateStatus(r.Context(), id, status); err != nil {
		handleStoreError(w, err)
		return
	}

	campaign, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		handleStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toCampaignResponse(campaign))
}

// --- ヘルパー関数 ---

// toCampaignResponse はmodel.CampaignからAPIレスポンスに変換する。
func toCampaignResponse(c *model.Campaign) campaignResponse {
	sinks := make([]sinkResponse, 0, len(c.SinkRefs))
	for _, ref := range c.SinkRefs {
		sinks = append(sinks, sinkResponse{Kind: string(ref.Kind), Target: ref.Target})
	}

	resp := campaignResponse{
		ID:                 c.ID,
		Name:               c.Name,
		Keywords:           c.Keywords,
		Frequency:          string(c.Frequency),
		MaxArticles:        c.MaxArticles,
		RelevanceThreshold: c.RelevanceThreshold,
		Sinks:              sinks,
		Status:             string(c.Status),
		LastRunAt:          c.LastRunAt,
		TotalArticles:      c.TotalArticles,
	}
	if c.LastRunReport != nil {
		report := toReportResponse(c.LastRunReport)
		resp.LastRunReport = &report
	}
	return resp
}

// toReportResponse はmodel.RunReportからAPIレスポンスに変換する。
func toReportResponse(r *model.RunReport) reportResponse {
	return reportResponse{
		ID:               r.ID,
		CampaignID:       r.CampaignID,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		DurationMs:       float64(r.Duration().Milliseconds()),
		ArticlesFetched:  r.ArticlesFetched,
		ArticlesAccepted: r.ArticlesAccepted,
		FailedSources:    r.FailedSources,
		FailedSinks:      r.FailedSinks,
		AIProvider:       r.AIProvider,
		Outcome:          string(r.Outcome),
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleStoreError はストア層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrCampaignNotFound) {
		writeAPIErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "CAMPAIGN_NOT_FOUND",
			Message:  "指定されたキャンペーンが見つかりません。",
			Category: "campaign",
			Action:   "キャンペーンIDを確認してください。",
		})
		return
	}

	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
