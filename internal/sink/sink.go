// Package sink は受理された記事の出力先アダプターを提供する。
package sink

import (
	"context"
	"fmt"

	"github.com/hitoshi/newswatch/internal/model"
)

// Sink は記事の出力先を表すインターフェース。
// 書き込みは冪等であること。同じ記事集合を再書き込みしても重複しない。
// 失敗時は*model.SinkErrorを返すこと。
type Sink interface {
	// Name はシンクの識別名を返す。failed_sinksの記録に使用される。
	Name() string

	// Write は記事集合をキャンペーンの出力先に書き込む。
	Write(ctx context.Context, campaign *model.Campaign, articles []model.Article) error
}

// Factory はSinkRefからシンクを生成する関数。
type Factory func(ref model.SinkRef) (Sink, error)

// Registry はシンク種別ごとのファクトリを保持し、SinkRefを解決する。
type Registry struct {
	factories map[model.SinkKind]Factory
}

// NewRegistry はRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{factories: make(map[model.SinkKind]Factory)}
}

// Register はシンク種別のファクトリを登録する。
func (r *Registry) Register(kind model.SinkKind, factory Factory) {
	r.factories[kind] = factory
}

// Resolve はSinkRefを具体的なシンクに解決する。
// 未登録の種別の場合はエラーを返す。
func (r *Registry) Resolve(ref model.SinkRef) (Sink, error) {
	factory, ok := r.factories[ref.Kind]
	if !ok {
		return nil, fmt.Errorf("未登録のシンク種別です: %s", ref.Kind)
	}
	return factory(ref)
}
