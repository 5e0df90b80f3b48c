package transport

import (
	"fmt"
	"sync"
)

// SimTransport 是仿真模式下的命令通道
// 记录所有下发的命令，应答固定返回 OK，供测试和无硬件环境使用
type SimTransport struct {
	mu        sync.Mutex
	connected bool
	commands  []string

	// FailSend 不为 nil 时，Send 对匹配的命令返回该错误，用于注入传输故障
	FailSend func(command string) error
}

// NewSimTransport 创建仿真传输实例
func NewSimTransport() *SimTransport {
	return &SimTransport{}
}

func (t *SimTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *SimTransport) Send(command string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return fmt.Errorf("机械臂未连接")
	}
	if t.FailSend != nil {
		if err := t.FailSend(command); err != nil {
			return err
		}
	}
	t.commands = append(t.commands, command)
	return nil
}

func (t *SimTransport) ReadAck() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return "", false
	}
	return "OK", true
}

func (t *SimTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}

// Commands 返回已下发命令的副本，供测试断言
func (t *SimTransport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.commands))
	copy(out, t.commands)
	return out
}
