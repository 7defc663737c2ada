package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/newswatch/internal/model"
)

// yamlCampaign はYAMLファイル上のキャンペーン定義。
type yamlCampaign struct {
	ID                 string          `yaml:"id"`
	Name               string          `yaml:"name"`
	Keywords           []string        `yaml:"keywords"`
	Frequency          string          `yaml:"frequency"`
	MaxArticles        int             `yaml:"max_articles"`
	RelevanceThreshold int             `yaml:"relevance_threshold"`
	Sinks              []model.SinkRef `yaml:"sinks"`
	Paused             bool            `yaml:"paused"`
}

// yamlFile はキャンペーン定義ファイルのルート構造。
type yamlFile struct {
	Campaigns []yamlCampaign `yaml:"campaigns"`
}

// YAMLCampaignStore はYAMLファイルからキャンペーン定義を読み込むストア。
// 開発・小規模運用向け。実行状態とレポートはメモリ上にのみ保持され、
// プロセス再起動で失われる。
type YAMLCampaignStore struct {
	mu        sync.RWMutex
	campaigns []*model.Campaign
	reports   map[string][]*model.RunReport
}

// NewYAMLCampaignStore は指定ファイルからキャンペーン定義を読み込む。
func NewYAMLCampaignStore(path string) (*YAMLCampaignStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("キャンペーン定義ファイルの読み込みに失敗しました: %w", err)
	}
	return newYAMLCampaignStoreFromBytes(data)
}

func newYAMLCampaignStoreFromBytes(data []byte) (*YAMLCampaignStore, error) {
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("キャンペーン定義のパースに失敗しました: %w", err)
	}

	now := time.Now()
	store := &YAMLCampaignStore{
		reports: make(map[string][]*model.RunReport),
	}

	for i, def := range file.Campaigns {
		if def.Name == "" {
			return nil, fmt.Errorf("campaigns[%d]: nameは必須です", i)
		}
		if len(def.Keywords) == 0 {
			return nil, fmt.Errorf("campaigns[%d]: keywordsは必須です", i)
		}

		frequency := model.Frequency(def.Frequency)
		if def.Frequency == "" {
			frequency = model.FrequencyDaily
		} else if !frequency.Valid() {
			return nil, fmt.Errorf("campaigns[%d]: 不正なfrequencyです: %s", i, def.Frequency)
		}

		id := def.ID
		if id == "" {
			id = uuid.NewString()
		}

		status := model.CampaignStatusActive
		if def.Paused {
			status = model.CampaignStatusPaused
		}

		maxArticles := def.MaxArticles
		if maxArticles <= 0 {
			maxArticles = 20
		}

		store.campaigns = append(store.campaigns, &model.Campaign{
			ID:                 id,
			Name:               def.Name,
			Keywords:           def.Keywords,
			Frequency:          frequency,
			MaxArticles:        maxArticles,
			RelevanceThreshold: def.RelevanceThreshold,
			SinkRefs:           def.Sinks,
			Status:             status,
			CreatedAt:          now,
			UpdatedAt:          now,
		})
	}

	return store, nil
}

// ListActive はアクティブなキャンペーンの一覧を取得する。
func (s *YAMLCampaignStore) ListActive(ctx context.Context) ([]*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*model.Campaign
	for _, c := range s.campaigns {
		if c.Status != model.CampaignStatusPaused {
			active = append(active, cloneCampaign(c))
		}
	}
	return active, nil
}

// List は全キャンペーンの一覧を取得する。
func (s *YAMLCampaignStore) List(ctx context.Context) ([]*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	campaigns := make([]*model.Campaign, 0, len(s.campaigns))
	for _, c := range s.campaigns {
		campaigns = append(campaigns, cloneCampaign(c))
	}
	return campaigns, nil
}

// FindByID は指定IDのキャンペーンを取得する。
func (s *YAMLCampaignStore) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.findLocked(id)
	if c == nil {
		return nil, model.ErrCampaignNotFound
	}
	return cloneCampaign(c), nil
}

// Create はキャンペーンをメモリ上に追加する。ファイルには書き戻さない。
func (s *YAMLCampaignStore) Create(ctx context.Context, campaign *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(campaign.ID) != nil {
		return fmt.Errorf("キャンペーンIDが重複しています: %s", campaign.ID)
	}
	s.campaigns = append(s.campaigns, cloneCampaign(campaign))
	return nil
}

// UpdateStatus はキャンペーンの状態を更新する。
func (s *YAMLCampaignStore) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.findLocked(id)
	if c == nil {
		return model.ErrCampaignNotFound
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

// UpdateRunState は実行完了時の状態とレポートを記録する。
// 実行中に一時停止されたキャンペーンはpausedのまま維持される。
func (s *YAMLCampaignStore) UpdateRunState(ctx context.Context, campaign *model.Campaign, report *model.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.findLocked(campaign.ID)
	if c == nil {
		return model.ErrCampaignNotFound
	}

	finishedAt := report.FinishedAt
	c.LastRunAt = &finishedAt
	c.LastRunReport = report
	c.TotalArticles += report.ArticlesAccepted
	if c.Status != model.CampaignStatusPaused {
		c.Status = campaign.Status
	}
	c.UpdatedAt = time.Now()

	s.reports[campaign.ID] = append(s.reports[campaign.ID], report)
	return nil
}

// ListReports は指定キャンペーンの実行レポートを新しい順に取得する。
func (s *YAMLCampaignStore) ListReports(ctx context.Context, campaignID string, limit int) ([]*model.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	reports := make([]*model.RunReport, len(s.reports[campaignID]))
	copy(reports, s.reports[campaignID])
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})

	if len(reports) > limit {
		reports = reports[:limit]
	}
	return reports, nil
}

func (s *YAMLCampaignStore) findLocked(id string) *model.Campaign {
	for _, c := range s.campaigns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// cloneCampaign はキャンペーンの浅い複製を返す。
// 呼び出し側の変更がストア内部に影響しないようにする。
func cloneCampaign(c *model.Campaign) *model.Campaign {
	clone := *c
	clone.Keywords = append([]string(nil), c.Keywords...)
	clone.SinkRefs = append([]model.SinkRef(nil), c.SinkRefs...)
	return &clone
}
