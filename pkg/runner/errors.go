package runner

import "errors"

var (
	// ErrNilScript 未提供测试脚本
	ErrNilScript = errors.New("test script is required")

	// ErrNoBody 既没有 requests 也没有 Body
	ErrNoBody = errors.New("test has no requests and no body function")

	// ErrAlreadyStarted Run 只能调用一次
	ErrAlreadyStarted = errors.New("test runner already started")
)
