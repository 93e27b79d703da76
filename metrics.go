package asyncsql

import "time"

// 指标状态与原因标签
const (
	StatusSuccess = "success"
	StatusFail    = "fail"

	TxOutcomeBegin       = "begin"
	TxOutcomeBeginFailed = "begin_failed"
	TxOutcomeCommitted   = "committed"
	TxOutcomeRolledBack  = "rolled_back"
)

// MetricsReporter 连接池与执行指标上报接口
type MetricsReporter interface {
	// 获取连接耗时（成功时）
	ObserveAcquireLatency(pool string, d time.Duration)
	// 执行耗时：op 为 query/mutate/batch_insert/batch_update/batch_delete，n 为语句条数
	ObserveExecuteDuration(pool, op string, n int, d time.Duration, status string)
	// 批次大小
	ObserveBatchSize(pool string, n int)

	// 连接借出/归还，两者之差即在途连接数
	IncAcquired(pool string)
	IncReleased(pool string)

	// 事务结果
	IncTxOutcome(pool, outcome string)
	// 错误计数，reason 为 Classify 的结果
	IncError(pool, reason string)
}

// NoopMetricsReporter 默认空实现
type NoopMetricsReporter struct{}

func NewNoopMetricsReporter() *NoopMetricsReporter { return &NoopMetricsReporter{} }

func (*NoopMetricsReporter) ObserveAcquireLatency(string, time.Duration) {}
func (*NoopMetricsReporter) ObserveExecuteDuration(string, string, int, time.Duration, string) {}
func (*NoopMetricsReporter) ObserveBatchSize(string, int) {}
func (*NoopMetricsReporter) IncAcquired(string) {}
func (*NoopMetricsReporter) IncReleased(string) {}
func (*NoopMetricsReporter) IncTxOutcome(string, string) {}
func (*NoopMetricsReporter) IncError(string, string) {}
