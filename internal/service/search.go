package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"listenparty/internal/domain"
	"listenparty/internal/provider"
)

// Search 并发查询所有可用的音乐源，按音乐源名称顺序合并结果。
// 失败的音乐源被跳过，全部失败时才返回错误。元数据不完整的曲目被丢弃。
func (s *SessionService) Search(ctx context.Context, query string, limit int) ([]domain.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Track{}, nil
	}
	// limit 不超过配置上限
	if limit <= 0 || limit > s.cfg.SearchLimit {
		limit = s.cfg.SearchLimit
	}
	available := s.providers.Available(ctx)
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: no provider available", domain.ErrProvider)
	}

	// 每个音乐源一个 goroutine，结果按下标存放，保证合并顺序稳定
	results := make([][]domain.Track, len(available))
	errs := make([]error, len(available))
	var g errgroup.Group
	for i, p := range available {
		i, p := i, provider.WithRetry(p, s.cfg.Retry)
		g.Go(func() error {
			results[i], errs[i] = p.Search(ctx, query, limit)
			return nil // 单个音乐源失败不取消其他查询
		})
	}
	_ = g.Wait()

	var (
		tracks []domain.Track
		failed int
	)
	// 合并结果
	for i, p := range available {
		if errs[i] != nil {
			failed++
			logrus.WithFields(logrus.Fields{"provider": p.Name(), "query": query}).WithError(errs[i]).Warn("Provider search failed, skipping")
			continue
		}
		for _, t := range results[i] {
			if !t.Valid() {
				continue
			}
			if t.Provider == "" {
				t.Provider = p.Name()
			}
			tracks = append(tracks, t)
		}
	}
	if failed == len(available) {
		return nil, fmt.Errorf("%w: every provider failed: %v", domain.ErrProvider, errs[0])
	}
	if tracks == nil {
		tracks = []domain.Track{}
	}
	return tracks, nil
}
