package flashring

import (
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"flashring/transport"
)

// Pipeline 写入管道: 把数据源的字节流攒成页对齐的块再写入 Ring
// 独立的搬运协程负责拉取数据/补齐页边界/整页写入,
// 空闲超时或显式 Flush 时把不足一页的尾巴也写下去并持久化游标
type Pipeline struct {
	options PipelineOptions
	ring    *Ring
	source  transport.Source
	logger  *slog.Logger

	mu      sync.Mutex // 保护统计信息和运行标志
	stat    PipelineStat
	running bool
	closed  bool

	flushCh chan chan struct{} // 一次性刷新信号, 携带完成通知
	done    chan struct{}
	wg      sync.WaitGroup
}

// PipelineStat 管道的统计信息
type PipelineStat struct {
	BytesWritten    uint64 // 成功写入存储的字节数
	BytesDropped    uint64 // 写入失败被丢弃的字节数
	WriteOperations uint32 // 写入操作次数
	FlushOperations uint32 // 刷新操作次数
	Running         bool   // 是否正在搬运数据
}

// NewPipeline 初始化写入管道并启动搬运协程
func NewPipeline(ring *Ring, source transport.Source, options PipelineOptions) (*Pipeline, error) {
	if ring == nil {
		return nil, ErrRingClosed
	}
	if source == nil {
		return nil, ErrSourceIsNil
	}
	if options.WriteChunkSize == 0 || options.WriteChunkSize < ring.options.PageSize {
		return nil, ErrChunkSizeInvalid
	}
	if options.FlushTimeout <= 0 {
		options.FlushTimeout = DefaultPipelineOptions.FlushTimeout
	}
	if options.DrainTimeout <= 0 {
		options.DrainTimeout = DefaultPipelineOptions.DrainTimeout
	}

	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		options: options,
		ring:    ring,
		source:  source,
		logger:  logger.With(slog.String("component", "pipeline")),
		running: options.AutoStart,
		flushCh: make(chan chan struct{}, 1),
		done:    make(chan struct{}),
	}

	p.wg.Add(1)
	go p.writerLoop()

	p.logger.Info("pipeline initialized",
		slog.Int("chunk_size", int(options.WriteChunkSize)),
		slog.Duration("flush_timeout", options.FlushTimeout))
	return p, nil
}

// Start 开始搬运数据, 重复调用无副作用
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	p.running = true
	p.logger.Info("pipeline started")
	return nil
}

// Stop 暂停搬运数据, 协程保持运行但跳过拉取, 显式 Flush 仍然生效
// 协作式停止, 调用方最多等一个拉取超时周期后生效
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	p.running = false
	p.logger.Info("pipeline stopped")
	return nil
}

// Flush 请求立即把暂存的数据写入存储, 短暂等待生效
func (p *Pipeline) Flush() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	p.mu.Unlock()

	ack := make(chan struct{})
	select {
	case p.flushCh <- ack:
	default:
		// 已经有待处理的刷新信号
		return nil
	}

	select {
	case <-ack:
	case <-time.After(p.options.DrainTimeout * 4):
	case <-p.done:
	}
	return nil
}

// Stat 返回统计信息快照
func (p *Pipeline) Stat() PipelineStat {
	p.mu.Lock()
	defer p.mu.Unlock()
	stat := p.stat
	stat.Running = p.running
	return stat
}

// ResetStats 统计信息清零
func (p *Pipeline) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stat = PipelineStat{}
}

// Close 停止搬运协程并释放暂存缓冲区, 暂存中未写入的数据不保证落盘
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.running = false
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	p.logger.Info("pipeline closed")
	return nil
}

func (p *Pipeline) isRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// 搬运协程主循环
func (p *Pipeline) writerLoop() {
	defer p.wg.Done()

	buf := make([]byte, p.options.WriteChunkSize)
	var pending uint32
	lastData := time.Now()
	pageSize := p.ring.options.PageSize

	p.logger.Info("flash writer worker started")

	for {
		select {
		case <-p.done:
			p.logger.Info("flash writer worker exiting")
			return
		default:
		}

		if !p.isRunning() {
			select {
			case <-p.done:
				p.logger.Info("flash writer worker exiting")
				return
			case ack := <-p.flushCh:
				// 停止期间也响应显式刷新, 信号不留到下次启动
				pending = p.flushStaged(buf, pending, ack)
			case <-time.After(p.options.DrainTimeout):
			}
			continue
		}

		// 拉取数据, 超时时间较短, 保证对停止/刷新信号的响应
		data := p.source.ReceiveUpTo(int(p.options.WriteChunkSize-pending), p.options.DrainTimeout)
		if len(data) > 0 {
			copy(buf[pending:], data)
			pending += uint32(len(data))
			lastData = time.Now()

			// 先补齐当前页, 让后续写入都落在页边界上
			if toPageEnd := p.ring.BytesToPageEnd(); pending >= toPageEnd && toPageEnd > 0 {
				pending = p.writeChunk(buf, pending, toPageEnd)
			}

			// 剩余数据按整页写入
			for pending >= pageSize {
				pending = p.writeChunk(buf, pending, pageSize)
			}
		}

		// 检查显式刷新信号和空闲超时
		var ack chan struct{}
		shouldFlush := false
		select {
		case ack = <-p.flushCh:
			shouldFlush = true
		default:
		}
		if !shouldFlush && pending > 0 && time.Since(lastData) > p.options.FlushTimeout {
			shouldFlush = true
		}

		if shouldFlush {
			pending = p.flushStaged(buf, pending, ack)
		}
	}
}

// flushStaged 把暂存的数据全部写入存储并持久化游标, 完成后通知等待方
func (p *Pipeline) flushStaged(buf []byte, pending uint32, ack chan struct{}) uint32 {
	if pending > 0 {
		p.logger.Info("flushing staged bytes", slog.Int("pending", int(pending)))
		pending = p.writeChunk(buf, pending, pending)
	}
	if err := p.ring.FlushMetadata(); err != nil {
		p.logger.Error("failed to flush metadata", slog.Any("error", err))
	}
	p.mu.Lock()
	p.stat.FlushOperations++
	p.mu.Unlock()
	if ack != nil {
		close(ack)
	}
	return pending
}

// writeChunk 把暂存区前 n 字节写入存储, 剩余数据移到缓冲区头部
// 写入失败按丢弃处理, 搬运不中断
func (p *Pipeline) writeChunk(buf []byte, pending, n uint32) uint32 {
	if err := p.ring.Write(buf[:n]); err != nil {
		p.mu.Lock()
		p.stat.BytesDropped += uint64(n)
		p.mu.Unlock()
		p.logger.Error("flash write failed, dropping bytes",
			slog.Int("bytes", int(n)), slog.Any("error", err))
	} else {
		p.mu.Lock()
		p.stat.BytesWritten += uint64(n)
		p.stat.WriteOperations++
		p.mu.Unlock()
	}

	remaining := pending - n
	if remaining > 0 {
		copy(buf, buf[n:pending])
	}
	return remaining
}
