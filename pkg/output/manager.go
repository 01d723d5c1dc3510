package output

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

const (
	// sendBatchToOutputsRate 批量发送到输出的间隔
	sendBatchToOutputsRate = 50 * time.Millisecond
	// DefaultSamplesChannelSize 默认样本通道大小
	DefaultSamplesChannelSize = 1000
)

// Manager 管理多个输出插件
type Manager struct {
	outputs []Output
	log     *zap.SugaredLogger
	mu      sync.RWMutex
}

// NewManager 创建新的输出管理器
func NewManager(outputs ...Output) *Manager {
	return &Manager{
		outputs: outputs,
		log:     logger.Named("output"),
	}
}

// Start 启动所有输出并开始分发样本。
// wait 在 samplesChan 关闭且剩余样本送达后返回；finish 等待分发结束、
// 下发运行状态并停止所有输出。
func (m *Manager) Start(samplesChan chan metrics.SampleContainer) (wait func(), finish func(RunStatus), err error) {
	if err := m.startOutputs(); err != nil {
		return nil, nil, err
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)

	sendToOutputs := func(sampleContainers []metrics.SampleContainer) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for _, out := range m.outputs {
			m.deliver(out, sampleContainers)
		}
	}

	go func() {
		defer wg.Done()
		defer logger.Recover("output-dispatch", nil)
		ticker := time.NewTicker(sendBatchToOutputsRate)
		defer ticker.Stop()

		buffer := make([]metrics.SampleContainer, 0, cap(samplesChan))
		for {
			select {
			case sampleContainer, ok := <-samplesChan:
				if !ok {
					if len(buffer) > 0 {
						sendToOutputs(buffer)
					}
					return
				}
				buffer = append(buffer, sampleContainer)
			case <-ticker.C:
				if len(buffer) > 0 {
					sendToOutputs(buffer)
					buffer = make([]metrics.SampleContainer, 0, cap(buffer))
				}
			}
		}
	}()

	var once sync.Once
	wait = wg.Wait
	finish = func(status RunStatus) {
		once.Do(func() {
			wait()
			m.stopOutputs(status)
		})
	}
	return wait, finish, nil
}

// deliver 单个输出 panic 时只丢弃这一批，分发循环继续消费样本
func (m *Manager) deliver(out Output, sampleContainers []metrics.SampleContainer) {
	defer logger.Recover("output-"+out.Description(), nil)
	out.AddMetricSamples(sampleContainers)
}

func (m *Manager) startOutputs() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, out := range m.outputs {
		if err := out.Start(); err != nil {
			for j := 0; j < i; j++ {
				_ = m.outputs[j].Stop()
			}
			return fmt.Errorf("start output %s: %w", out.Description(), err)
		}
		m.log.Debugw("output started", "output", out.Description())
	}
	return nil
}

func (m *Manager) stopOutputs(status RunStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, out := range m.outputs {
		out.SetRunStatus(status)
		if err := out.Stop(); err != nil {
			m.log.Errorw("stop output failed", "output", out.Description(), "error", err)
		}
	}
}

// SetVerdict hands the verdict to every output implementing VerdictReceiver.
func (m *Manager) SetVerdict(verdict *types.TestVerdict) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, out := range m.outputs {
		if vr, ok := out.(VerdictReceiver); ok {
			vr.SetVerdict(verdict)
		}
	}
}

// AddOutput 添加输出，需在 Start 之前调用
func (m *Manager) AddOutput(out Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = append(m.outputs, out)
}

// GetOutputs 获取所有输出
func (m *Manager) GetOutputs() []Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Output, len(m.outputs))
	copy(result, m.outputs)
	return result
}

// NewSamplesChannel 创建新的样本通道
func NewSamplesChannel(size int) chan metrics.SampleContainer {
	if size <= 0 {
		size = DefaultSamplesChannelSize
	}
	return make(chan metrics.SampleContainer, size)
}
