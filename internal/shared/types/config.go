package types

// CommonConf 包含通用的行为配置
type CommonConf struct {
	DataDir     string `ini:"data_dir"`     // key 存储与 settings.json 所在目录，空表示与 ini 同目录
	ResultsFile string `ini:"results_file"` // key 存储文件名
}

// WebConf 包含 Web 服务的配置
type WebConf struct {
	WebPort     int    `ini:"web_port"`
	WebUser     string `ini:"web_user"`
	WebPassword string `ini:"web_password"`
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// Config 是 keyprobe 的统一启动配置结构体 (只包含行为配置，
// 查询相关的运行时配置由 settings.json 管理)
type Config struct {
	CommonConf `ini:"common"`
	WebConf    `ini:"web"`
	LogConf    `ini:"log"`
}
