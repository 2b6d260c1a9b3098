package types

import "errors"

var (
	// ErrBatchRunning 表示已有查询批次在运行
	ErrBatchRunning = errors.New("a query batch is already running")
	// ErrNoKeys 表示没有可提交的 key
	ErrNoKeys = errors.New("no keys to query")
)
