package logger

import (
	"fmt"
	"runtime/debug"
)

// SafeGo 安全地启动一个带名称的 goroutine，捕获 panic 并记录日志
func SafeGo(name string, fn func()) {
	go func() {
		defer Recover(name, nil)
		fn()
	}()
}

// Recover 在 defer 中调用，捕获 panic 并记录堆栈。onPanic 可为空。
func Recover(name string, onPanic func(r any)) {
	r := recover()
	if r == nil {
		return
	}
	Error("goroutine panic recovered",
		"goroutine", name,
		"panic", fmt.Sprint(r),
		"stack", string(debug.Stack()),
	)
	if onPanic != nil {
		onPanic(r)
	}
}
