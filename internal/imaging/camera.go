package imaging

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
)

// Frame 表示一帧 8 位灰度图像
// 识别链路上的所有处理都在这个内存表示上完成
type Frame struct {
	Width  int
	Height int
	Pixels []byte // 按行存储，长度为 Width*Height
}

// Empty 返回帧是否为空
func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0 || len(f.Pixels) == 0
}

// At 返回 (x, y) 处的灰度值，越界返回 0
func (f Frame) At(x, y int) byte {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0
	}
	return f.Pixels[y*f.Width+x]
}

// ErrCaptureFailed 表示相机未能采集到可用帧
var ErrCaptureFailed = errors.New("图像采集失败")

// Camera 抽象图像采集设备
// 核心层只在扫描位置调用一次 CaptureBestFrame，内部的重试和选帧由实现负责
type Camera interface {
	Open() error
	CaptureBestFrame() (Frame, error)
	Close() error
}

// SimCamera 是仿真相机
// 生成带伪随机纹理的测试帧，供测试和无硬件环境使用
type SimCamera struct {
	width     int
	height    int
	numFrames int
	logger    *slog.Logger

	mu     sync.Mutex
	opened bool
	rng    *rand.Rand

	// Fail 为 true 时 CaptureBestFrame 返回采集失败，用于测试注入
	Fail bool
}

// NewSimCamera 创建仿真相机
func NewSimCamera(width, height, numFrames int, logger *slog.Logger) *SimCamera {
	return &SimCamera{
		width:     width,
		height:    height,
		numFrames: numFrames,
		logger:    logger.With("component", "camera", "simulated", true),
		rng:       rand.New(rand.NewSource(1)),
	}
}

func (c *SimCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = true
	c.logger.Info("仿真相机已打开", "width", c.width, "height", c.height)
	return nil
}

// CaptureBestFrame 连续采集多帧并返回最清晰的一帧
// 清晰度用梯度方差近似 (对焦失败或运动模糊会显著拉低该值)
func (c *SimCamera) CaptureBestFrame() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return Frame{}, fmt.Errorf("%w: 相机未打开", ErrCaptureFailed)
	}
	if c.Fail {
		return Frame{}, ErrCaptureFailed
	}

	var best Frame
	bestScore := -1.0
	for i := 0; i < c.numFrames; i++ {
		f := c.synthesize()
		if score := Sharpness(f); score > bestScore {
			bestScore = score
			best = f
		}
	}
	return best, nil
}

func (c *SimCamera) synthesize() Frame {
	pixels := make([]byte, c.width*c.height)
	for i := range pixels {
		pixels[i] = byte(c.rng.Intn(256))
	}
	return Frame{Width: c.width, Height: c.height, Pixels: pixels}
}

func (c *SimCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	c.logger.Info("仿真相机已关闭")
	return nil
}

// Sharpness 计算帧的清晰度评分 (相邻像素梯度的方差)
func Sharpness(f Frame) float64 {
	if f.Empty() || f.Width < 2 {
		return 0
	}

	var sum, sumSq float64
	n := 0
	for y := 0; y < f.Height; y++ {
		for x := 1; x < f.Width; x++ {
			d := float64(f.At(x, y)) - float64(f.At(x-1, y))
			sum += d
			sumSq += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}
