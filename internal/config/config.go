package config

import (
	"fmt"
	"regexp"

	"card-sorter/internal/types"

	"github.com/spf13/viper"
)

// RobotConfig 定义机械臂硬件相关配置
type RobotConfig struct {
	Port      string                         `mapstructure:"port"`      // 串口设备路径
	Baudrate  int                            `mapstructure:"baudrate"`  // 波特率
	TimeoutMs int                            `mapstructure:"timeout_ms"` // 串口读超时
	Positions map[string]types.Pose          `mapstructure:"positions"` // 命名位置表，Key 为 PositionID
	Motion    MotionConfig                   `mapstructure:"motion"`
	Safety    SafetyConfig                   `mapstructure:"safety"`
}

// MotionConfig 定义运动参数
type MotionConfig struct {
	Speed             int `mapstructure:"speed"`               // 移动速度 (G 代码 F 参数)
	GripperOpenValue  int `mapstructure:"gripper_open_value"`  // 夹爪打开的舵机值
	GripperCloseValue int `mapstructure:"gripper_close_value"` // 夹爪闭合的舵机值
	SettleDelayMs     int `mapstructure:"settle_delay_ms"`     // 运动完成等待时长 (无完成反馈，按时长近似)
	GripDelayMs       int `mapstructure:"grip_delay_ms"`       // 抓取后的稳定延时
	ReleaseDelayMs    int `mapstructure:"release_delay_ms"`    // 释放后的稳定延时
}

// SafetyConfig 定义运动安全配置
type SafetyConfig struct {
	WorkspaceLimits types.WorkspaceLimits `mapstructure:"workspace_limits"`
}

// OCRConfig 定义识别层配置
type OCRConfig struct {
	Endpoint            string  `mapstructure:"endpoint"`             // 远程 OCR 服务地址
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"` // 置信度阈值
	CardNumberPattern   string  `mapstructure:"card_number_pattern"`  // 卡片番号正则
	MaxRetry            int     `mapstructure:"max_retry"`            // 单次循环内的识别重试次数
	ROI                 ROIConfig `mapstructure:"roi"`
}

// ROIConfig 定义番号区域在画面中的相对位置 (0~1 比例)
type ROIConfig struct {
	X      float64 `mapstructure:"x"`
	Y      float64 `mapstructure:"y"`
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
}

// CameraConfig 定义相机配置
type CameraConfig struct {
	FrameWidth  int `mapstructure:"frame_width"`
	FrameHeight int `mapstructure:"frame_height"`
	NumFrames   int `mapstructure:"num_frames"` // 多帧采集张数，取最清晰的一帧
}

// ProcessConfig 定义主流程运行策略
type ProcessConfig struct {
	MaxCards          int    `mapstructure:"max_cards"`           // 最大处理数量，0 表示不限
	StopOnError       bool   `mapstructure:"stop_on_error"`       // 失败时立即停止
	AutoResume        bool   `mapstructure:"auto_resume"`         // 失败后自动恢复
	ResumeDelayMs     int    `mapstructure:"resume_delay_ms"`     // 自动恢复前的冷却时长
	StatsInterval     int    `mapstructure:"stats_interval"`      // 每 N 个循环输出一次统计
	ScanSettleDelayMs int    `mapstructure:"scan_settle_delay_ms"` // 扫描位置的稳定等待
	RoutingRule       string `mapstructure:"routing_rule"`        // 可选的分拣规则表达式 (expr 语法)，为空则按识别结果分拣
}

// StorageConfig 定义存储层配置
type StorageConfig struct {
	DBPath      string `mapstructure:"db_path"`      // SQLite 数据库路径
	JournalPath string `mapstructure:"journal_path"` // 循环结果日志路径
}

// Config 定义应用程序的配置结构
// 使用 mapstructure 标签来映射配置文件中的字段
type Config struct {
	Robot   RobotConfig   `mapstructure:"robot_arm"`
	Camera  CameraConfig  `mapstructure:"camera"`
	OCR     OCRConfig     `mapstructure:"ocr"`
	Process ProcessConfig `mapstructure:"main_process"`
	Storage StorageConfig `mapstructure:"storage"`
	APIPort int           `mapstructure:"api_port"`
}

// LoadConfig 从 config.yaml 文件加载配置
// 使用 Viper 库来读取和解析配置文件
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config") // 配置文件名称 (不带扩展名)
	viper.SetConfigType("yaml")   // 配置文件类型
	viper.AddConfigPath(".")      // 查找配置文件的路径 (当前目录)

	// 设置默认值
	viper.SetDefault("robot_arm.port", "/dev/ttyUSB0")
	viper.SetDefault("robot_arm.baudrate", 115200)
	viper.SetDefault("robot_arm.timeout_ms", 1000)
	viper.SetDefault("robot_arm.motion.speed", 50)
	viper.SetDefault("robot_arm.motion.gripper_open_value", 100)
	viper.SetDefault("robot_arm.motion.gripper_close_value", 0)
	viper.SetDefault("robot_arm.motion.settle_delay_ms", 2000)
	viper.SetDefault("robot_arm.motion.grip_delay_ms", 500)
	viper.SetDefault("robot_arm.motion.release_delay_ms", 300)
	viper.SetDefault("camera.num_frames", 3)
	viper.SetDefault("camera.frame_width", 640)
	viper.SetDefault("camera.frame_height", 480)
	viper.SetDefault("ocr.confidence_threshold", 0.6)
	viper.SetDefault("ocr.card_number_pattern", "^[A-Z0-9-]{5,15}$")
	viper.SetDefault("ocr.max_retry", 3)
	viper.SetDefault("main_process.resume_delay_ms", 2000)
	viper.SetDefault("main_process.stats_interval", 10)
	viper.SetDefault("main_process.scan_settle_delay_ms", 500)
	viper.SetDefault("storage.db_path", "data/cards.db")
	viper.SetDefault("storage.journal_path", "data/outcomes.wal")
	viper.SetDefault("api_port", 8080)

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 将配置解析到结构体中
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 在进入主循环前做致命性检查
// 命名位置缺失或限位配置非法都视为配置错误，进程直接退出
func (c *Config) Validate() error {
	for _, id := range types.RequiredPositions {
		if _, ok := c.Robot.Positions[string(id)]; !ok {
			return fmt.Errorf("配置错误: 缺少命名位置 %q", id)
		}
	}

	l := c.Robot.Safety.WorkspaceLimits
	if l.XMin > l.XMax || l.YMin > l.YMax || l.ZMin > l.ZMax {
		return fmt.Errorf("配置错误: 工作空间限位非法 (min > max): %+v", l)
	}

	if _, err := regexp.Compile(c.OCR.CardNumberPattern); err != nil {
		return fmt.Errorf("配置错误: 卡片番号正则非法: %w", err)
	}

	if c.OCR.ConfidenceThreshold < 0 || c.OCR.ConfidenceThreshold > 1 {
		return fmt.Errorf("配置错误: 置信度阈值必须在 [0,1] 内: %v", c.OCR.ConfidenceThreshold)
	}

	return nil
}

// Position 按 ID 查找命名位置对应的位姿
func (c *Config) Position(id types.PositionID) (types.Pose, bool) {
	p, ok := c.Robot.Positions[string(id)]
	return p, ok
}
