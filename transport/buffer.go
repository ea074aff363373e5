package transport

import (
	"sync"
	"time"
)

// Stat 数据源的统计信息
type Stat struct {
	BytesPushed   uint64 // 生产者写入的字节数
	BytesReceived uint64 // 消费者取走的字节数
	BytesDropped  uint64 // 因队列满被丢弃的字节数
	Overruns      uint32 // 发生溢出丢弃的次数
}

// Buffer 有界字节队列, 连接采集侧生产者和写入管道
// 生产者通过 Push 非阻塞写入, 队列满时整块丢弃并计数,
// 溢出的统计由数据源一侧负责, 消费侧不感知
type Buffer struct {
	ch       chan []byte
	capacity int

	mu      sync.Mutex
	pending int // 队列中还未被取走的字节数
	stat    Stat

	leftover []byte // 上次取出后剩余的部分, 只被消费者访问
}

// NewBuffer 初始化有界字节队列, capacity 为缓冲的字节数上限
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Buffer{
		ch:       make(chan []byte, capacity/16+16),
		capacity: capacity,
	}
}

// Push 生产者写入一块数据, 返回实际入队的字节数
// 队列满时整块丢弃, 不做部分写入
func (b *Buffer) Push(p []byte) int {
	if len(p) == 0 {
		return 0
	}

	b.mu.Lock()
	if b.pending+len(p) > b.capacity {
		b.stat.BytesDropped += uint64(len(p))
		b.stat.Overruns++
		b.mu.Unlock()
		return 0
	}

	// 拷贝一份, 调用方可以复用自己的缓冲区
	chunk := make([]byte, len(p))
	copy(chunk, p)

	select {
	case b.ch <- chunk:
		b.pending += len(p)
		b.stat.BytesPushed += uint64(len(p))
		b.mu.Unlock()
		return len(p)
	default:
		b.stat.BytesDropped += uint64(len(p))
		b.stat.Overruns++
		b.mu.Unlock()
		return 0
	}
}

// ReceiveUpTo 消费者取出最多 max 字节, 没有数据时最多等待 timeout
func (b *Buffer) ReceiveUpTo(max int, timeout time.Duration) []byte {
	if max <= 0 {
		time.Sleep(timeout)
		return nil
	}

	var out []byte

	// 先消费上次剩余的数据
	if len(b.leftover) > 0 {
		out, b.leftover = b.takeFrom(b.leftover, nil, max)
	}

	// 没有现成数据时阻塞等待第一块
	if len(out) == 0 {
		timer := time.NewTimer(timeout)
		select {
		case chunk := <-b.ch:
			timer.Stop()
			out, b.leftover = b.takeFrom(chunk, out, max)
		case <-timer.C:
			return nil
		}
	}

	// 有了数据之后只做非阻塞的继续收集
	for len(out) < max && len(b.leftover) == 0 {
		select {
		case chunk := <-b.ch:
			out, b.leftover = b.takeFrom(chunk, out, max)
		default:
			b.account(len(out))
			return out
		}
	}

	b.account(len(out))
	return out
}

// Stat 返回统计信息快照
func (b *Buffer) Stat() Stat {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stat
}

// ResetStats 统计信息清零
func (b *Buffer) ResetStats() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stat = Stat{}
}

// takeFrom 把 chunk 追加到 out, 最多凑到 max 字节, 多出的部分作为剩余返回
func (b *Buffer) takeFrom(chunk, out []byte, max int) ([]byte, []byte) {
	room := max - len(out)
	if room >= len(chunk) {
		return append(out, chunk...), nil
	}
	return append(out, chunk[:room]...), chunk[room:]
}

// account 记录被取走的字节数
func (b *Buffer) account(n int) {
	if n == 0 {
		return
	}
	b.mu.Lock()
	b.pending -= n
	b.stat.BytesReceived += uint64(n)
	b.mu.Unlock()
}
