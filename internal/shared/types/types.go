package types

// ImportResult 是一次导入的汇总
type ImportResult struct {
	Added  int      `json:"added"`  // 新增的 key 数量
	Found  int      `json:"found"`  // 本次提取到的 key 数量 (去重后)
	Total  int      `json:"total"`  // 存储中的 key 总数
	Errors []string `json:"errors"` // 无法读取或解码的来源
}

// BatchInfo 描述一个刚启动的查询批次
type BatchInfo struct {
	ID        string `json:"batch_id"`
	Count     int    `json:"count"`
	GlobalCap int    `json:"global_cap"`
	Proxies   int    `json:"proxies"`
}

