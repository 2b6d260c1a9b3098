package settings

const (
	DefaultEndpoint              = "https://api.openai.com"
	DefaultUsageDays             = 100
	DefaultRequestTimeoutSeconds = 30
)

// ConfigurableModule 是所有希望其配置能被在线管理的模块必须实现的接口。
// 当相关配置发生变更时，SettingsManager 会调用 OnSettingsUpdate。
type ConfigurableModule interface {
	// moduleKey: 发生变化的模块 ("query" 或 "proxy")。
	// newSettings: 对应模块解析好的新配置结构体指针 (e.g., *ProxySettings)。
	OnSettingsUpdate(moduleKey string, newSettings interface{}) error
}

// RuntimeSettings 是 settings.json 文件的顶层结构。
// 使用指针类型确保了当JSON文件中缺少某个模块时，对应的字段为nil，而不是一个空的结构体。
type RuntimeSettings struct {
	Query *QuerySettings `json:"query"`
	Proxy *ProxySettings `json:"proxy"`
}

// QuerySettings 对应 settings.json 中的 "query" 模块。
type QuerySettings struct {
	Endpoint              string `json:"endpoint"`
	UsageDays             int    `json:"usage_days"`              // 用量查询的回溯天数
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"` // 单次远程调用的超时
}

// ProxyEntry 是一个代理地址。Capacity 为 0 时使用 MaxConnPerProxy。
type ProxyEntry struct {
	Address  string `json:"address"`
	Capacity int    `json:"capacity,omitempty"`
}

// ProxySettings 对应 settings.json 中的 "proxy" 模块。
type ProxySettings struct {
	UseSysProxy            bool          `json:"use_sys_proxy"` // 从环境变量发现代理
	UseDirect              bool          `json:"use_direct"`    // 在代理之外再加入一个直连条目
	Proxies                []*ProxyEntry `json:"proxies"`
	MaxConnPerProxy        int           `json:"max_conn_per_proxy"`
	ThreadCountFromProxies bool          `json:"thread_count_from_proxies"`
	ThreadCount            int           `json:"thread_count"`
}

func createDefaultSettings() *RuntimeSettings {
	s := &RuntimeSettings{
		Query: &QuerySettings{},
		Proxy: &ProxySettings{
			UseSysProxy:            true,
			Proxies:                []*ProxyEntry{},
			ThreadCountFromProxies: true,
		},
	}
	normalize(s)
	return s
}

func ensureDefaultModules(s *RuntimeSettings) {
	if s.Query == nil {
		s.Query = &QuerySettings{}
	}
	if s.Proxy == nil {
		s.Proxy = &ProxySettings{ThreadCountFromProxies: true}
	}
	if s.Proxy.Proxies == nil {
		s.Proxy.Proxies = []*ProxyEntry{}
	}
	normalize(s)
}

// normalize 把缺失或越界的数值修正为默认值。
func normalize(s *RuntimeSettings) {
	if s.Query.Endpoint == "" {
		s.Query.Endpoint = DefaultEndpoint
	}
	if s.Query.UsageDays <= 0 {
		s.Query.UsageDays = DefaultUsageDays
	}
	if s.Query.RequestTimeoutSeconds <= 0 {
		s.Query.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if s.Proxy.MaxConnPerProxy < 1 {
		s.Proxy.MaxConnPerProxy = 1
	}
	if s.Proxy.ThreadCount < 1 {
		s.Proxy.ThreadCount = 1
	}
	for _, p := range s.Proxy.Proxies {
		if p != nil && p.Capacity < 0 {
			p.Capacity = 0
		}
	}
}
