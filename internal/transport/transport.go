package transport

import (
	"bufio"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// Transport 抽象机械臂的命令通道
// 核心层把它当作不透明的请求/应答字节通道：连接、发命令、尽力读应答、断开
type Transport interface {
	Connect() error
	Send(command string) error
	ReadAck() (string, bool)
	Close() error
}

// SerialTransport 通过串口与机械臂控制板通信
// 命令以换行结尾的文本下发，应答按行尽力读取
type SerialTransport struct {
	portName string
	baudrate int
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	port   *serial.Port
	reader *bufio.Reader
}

// NewSerialTransport 创建串口传输实例，尚未建立连接
func NewSerialTransport(portName string, baudrate int, timeout time.Duration, logger *slog.Logger) *SerialTransport {
	return &SerialTransport{
		portName: portName,
		baudrate: baudrate,
		timeout:  timeout,
		logger:   logger.With("component", "transport", "port", portName),
	}
}

// Connect 打开串口并等待控制板稳定
func (t *SerialTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	port, err := serial.OpenPort(&serial.Config{
		Name:        t.portName,
		Baud:        t.baudrate,
		ReadTimeout: t.timeout,
	})
	if err != nil {
		return fmt.Errorf("打开串口失败: %w", err)
	}
	t.port = port
	t.reader = bufio.NewReader(port)

	// 控制板上电复位需要时间，连接后等待稳定
	time.Sleep(2 * time.Second)
	t.logger.Info("串口已连接", "baudrate", t.baudrate)
	return nil
}

// Send 向控制板写入一条命令，自动追加换行符
func (t *SerialTransport) Send(command string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return fmt.Errorf("机械臂未连接")
	}

	if _, err := t.port.Write([]byte(command + "\n")); err != nil {
		return fmt.Errorf("发送命令失败: %w", err)
	}
	// 给控制板留出解析时间
	time.Sleep(100 * time.Millisecond)
	return nil
}

// ReadAck 尽力读取一行应答
// 底层协议没有可靠的完成信号，读不到应答不算错误
func (t *SerialTransport) ReadAck() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return "", false
	}

	line, err := t.reader.ReadString('\n')
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(line), true
}

// Close 关闭串口
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.reader = nil
	return err
}
