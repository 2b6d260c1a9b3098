package app

import (
	"fmt"

	"keyprobe/internal/core/extractor"
	"keyprobe/internal/shared/logger"
	"keyprobe/internal/shared/settings"
	"keyprobe/internal/shared/types"
	"keyprobe/proxypool"
)

// OnSettingsUpdate 实现 settings.ConfigurableModule 接口。
// 新配置只在下一个批次生效，这里只负责通知前端。
func (s *AppServer) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	s.batchLock.Lock()
	running := s.batch != nil
	s.batchLock.Unlock()

	if running {
		logger.Info().Str("module", moduleKey).Msg("Settings changed during a batch, they apply to the next batch.")
	}
	s.hub.BroadcastSettingsUpdate(moduleKey, newSettings)
	return nil
}

// poolSpecs 根据批次配置组装代理池：系统代理、配置的代理列表、可选的直连条目。
// 结果为空时 proxypool.New 会退化为单个直连条目。
func (s *AppServer) poolSpecs(rc settings.RunConfig) ([]proxypool.Spec, error) {
	var specs []proxypool.Spec
	if rc.UseSysProxy {
		envSpecs, err := s.proxiesFromEnv(rc.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to discover system proxy: %w", err)
		}
		specs = append(specs, envSpecs...)
	}
	for _, p := range rc.Proxies {
		specs = append(specs, proxypool.Spec{Address: p.Address, Capacity: p.Capacity})
	}
	if rc.UseDirect {
		specs = append(specs, proxypool.Spec{Address: proxypool.DirectAddress})
	}
	return specs, nil
}

// ImportFiles reads files, extracts keys and merges them into the store.
func (s *AppServer) ImportFiles(paths []string) (*types.ImportResult, error) {
	if len(paths) == 0 {
		return nil, extractor.ErrNoSources
	}
	sources, readErrs := extractor.ReadFiles(paths)
	return s.importSources(sources, readErrs)
}

// ImportSources 实现 web.Controller
func (s *AppServer) ImportSources(sources []extractor.Source) (*types.ImportResult, error) {
	if len(sources) == 0 {
		return nil, extractor.ErrNoSources
	}
	return s.importSources(sources, nil)
}

func (s *AppServer) importSources(sources []extractor.Source, readErrs []*extractor.SourceError) (*types.ImportResult, error) {
	res := s.extractor.Extract(sources)
	added := s.store.Add(res.Keys)

	result := &types.ImportResult{
		Added:  added,
		Found:  len(res.Keys),
		Total:  s.store.Len(),
		Errors: []string{},
	}
	for _, e := range readErrs {
		result.Errors = append(result.Errors, e.Error())
	}
	for _, e := range res.Errors {
		result.Errors = append(result.Errors, e.Error())
	}

	if added > 0 {
		if err := s.store.Save(); err != nil {
			return result, fmt.Errorf("failed to save key store: %w", err)
		}
	}
	logger.Info().
		Int("sources", len(sources)+len(readErrs)).
		Int("found", result.Found).
		Int("added", added).
		Int("total", result.Total).
		Msg("Keys imported.")
	return result, nil
}
