package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"yqhp/load-engine/pkg/types"
)

func TestBaseMode_ConcurrentStopAndDone(t *testing.T) {
	b := NewBaseMode(types.ModeRampingVUs)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			b.RequestStop()
		}()
		go func() {
			defer wg.Done()
			<-start
			b.SignalDone()
		}()
	}
	// 重复 close 会让进程 panic
	close(start)
	wg.Wait()

	assert.True(t, b.IsStopped())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, b.WaitDone(ctx))
}

func TestBaseMode_StopBeforeStart(t *testing.T) {
	b := NewBaseMode(types.ModeConstantVUs)
	assert.NoError(t, b.Stop(context.Background()))
	assert.NoError(t, b.Stop(context.Background()))
	assert.True(t, b.IsStopped())
}
