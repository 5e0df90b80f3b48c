package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 定义 Prometheus 监控指标
var (
	// CardsProcessedTotal 计数器：物理完成的分拣循环总数
	// 按识别结果 (accepted/rejected) 分类
	CardsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sorter_cards_processed_total",
		Help: "The total number of physically completed sorting cycles",
	}, []string{"result"})

	// CyclesFailedTotal 计数器：物理步骤失败的循环总数
	// 按失败阶段分类，用于定位硬件问题
	CyclesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sorter_cycles_failed_total",
		Help: "The total number of cycles aborted by a physical step failure",
	}, []string{"reason"})

	// CycleDuration 直方图：单个循环的耗时分布
	// 用于分析分拣节拍和运动延时
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sorter_cycle_duration_seconds",
		Help:    "Time spent per sorting cycle",
		Buckets: prometheus.DefBuckets,
	})

	// RecognitionConfidence 直方图：识别置信度分布
	// 置信度整体下移通常意味着光照或对焦出了问题
	RecognitionConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sorter_recognition_confidence",
		Help:    "Distribution of OCR confidence per cycle",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})
)
