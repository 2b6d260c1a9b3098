package settings

import "time"

// RunConfig 是一次查询批次开始时从 RuntimeSettings 拍下的不可变快照。
// 批次运行期间对 settings.json 的修改不会影响它。
type RunConfig struct {
	Endpoint        string
	UsageDays       int
	RequestTimeout  time.Duration
	UseSysProxy     bool
	UseDirect       bool
	Proxies         []ProxyEntry
	MaxConnPerProxy int

	threadCountFromProxies bool
	threadCount            int
}

// NewRunConfig copies s into a RunConfig.
func NewRunConfig(s *RuntimeSettings) RunConfig {
	s = deepCopy(s)
	ensureDefaultModules(s)

	proxies := make([]ProxyEntry, 0, len(s.Proxy.Proxies))
	for _, p := range s.Proxy.Proxies {
		if p == nil || p.Address == "" {
			continue
		}
		proxies = append(proxies, *p)
	}

	return RunConfig{
		Endpoint:               s.Query.Endpoint,
		UsageDays:              s.Query.UsageDays,
		RequestTimeout:         time.Duration(s.Query.RequestTimeoutSeconds) * time.Second,
		UseSysProxy:            s.Proxy.UseSysProxy,
		UseDirect:              s.Proxy.UseDirect,
		Proxies:                proxies,
		MaxConnPerProxy:        s.Proxy.MaxConnPerProxy,
		threadCountFromProxies: s.Proxy.ThreadCountFromProxies,
		threadCount:            s.Proxy.ThreadCount,
	}
}

// GlobalCap 返回批次的全局并发上限。
// thread_count_from_proxies 打开时等于代理池条目数，否则取 thread_count。
func (rc RunConfig) GlobalCap(poolEntries int) int {
	n := rc.threadCount
	if rc.threadCountFromProxies {
		n = poolEntries
	}
	if n < 1 {
		n = 1
	}
	return n
}
