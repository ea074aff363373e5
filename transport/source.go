package transport

import "time"

// Source 字节流数据源抽象
// 管道只依赖这一个能力, 不关心具体的采集方式是串口还是并口
type Source interface {
	// ReceiveUpTo 取出最多 max 字节, 没有数据时最多等待 timeout
	// 返回 nil 表示等待超时, 只要有数据就立即返回已有的部分
	ReceiveUpTo(max int, timeout time.Duration) []byte
}
