package flashring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashring/transport"
	"flashring/utils"
)

func openTestPipeline(t *testing.T) (*Pipeline, *Ring, *transport.Buffer) {
	r, _, _ := openTestRing(t, 262144, 4096)
	source := transport.NewBuffer(64 * 1024)
	p, err := NewPipeline(r, source, PipelineOptions{
		WriteChunkSize: 12 * 1024,
		FlushTimeout:   200 * time.Millisecond,
		DrainTimeout:   10 * time.Millisecond,
		AutoStart:      true,
	})
	require.Nil(t, err)
	return p, r, source
}

func TestPipeline_New_Invalid(t *testing.T) {
	r, _, _ := openTestRing(t, 65536, 4096)
	defer r.Close()
	source := transport.NewBuffer(1024)

	_, err := NewPipeline(r, nil, DefaultPipelineOptions)
	assert.Equal(t, ErrSourceIsNil, err)

	// 暂存缓冲区至少要装得下一页
	_, err = NewPipeline(r, source, PipelineOptions{WriteChunkSize: 100})
	assert.Equal(t, ErrChunkSizeInvalid, err)
}

func TestPipeline_FullPageWrites(t *testing.T) {
	p, r, source := openTestPipeline(t)
	defer r.Close()
	defer p.Close()

	// 正好三整页的数据, 应该产生三次整页写入, 不需要等刷新
	value := utils.RandomValue(3 * 4096)
	assert.Equal(t, len(value), source.Push(value))

	assert.Eventually(t, func() bool {
		return p.Stat().BytesWritten == uint64(len(value))
	}, time.Second, 5*time.Millisecond)

	stat := p.Stat()
	assert.Equal(t, uint32(3), stat.WriteOperations)
	assert.Equal(t, uint64(0), stat.BytesDropped)
	assert.Equal(t, uint32(3*4096), r.Head())

	// 读回的数据和推入的完全一致
	buf := make([]byte, len(value))
	n, err := r.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, len(value), n)
	assert.Equal(t, value, buf)
}

func TestPipeline_IdleFlush(t *testing.T) {
	p, r, source := openTestPipeline(t)
	defer r.Close()
	defer p.Close()

	// 不足一页的数据先留在暂存区
	value := utils.RandomValue(100)
	source.Push(value)

	time.Sleep(100 * time.Millisecond)
	stat := p.Stat()
	assert.Equal(t, uint64(0), stat.BytesWritten)
	assert.Equal(t, uint32(0), stat.FlushOperations)

	// 超过刷新超时后, 正好一次写入加一次元数据刷新
	assert.Eventually(t, func() bool {
		return p.Stat().FlushOperations == 1
	}, 2*time.Second, 10*time.Millisecond)

	stat = p.Stat()
	assert.Equal(t, uint64(100), stat.BytesWritten)
	assert.Equal(t, uint32(1), stat.WriteOperations)

	buf := make([]byte, 100)
	n, err := r.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, value, buf)
}

func TestPipeline_PageCompletion(t *testing.T) {
	p, r, source := openTestPipeline(t)
	defer r.Close()
	defer p.Close()

	// 先让 head 停在页中间
	require.Nil(t, r.Write(utils.RandomValue(1000)))
	require.Nil(t, p.Flush()) // 消化可能的空刷新信号
	p.ResetStats()

	// 推入的数据先补齐当前页(3096), 剩下 1500 等待空闲刷新
	value := utils.RandomValue(4596)
	source.Push(value)

	assert.Eventually(t, func() bool {
		return p.Stat().BytesWritten == 4596
	}, 2*time.Second, 10*time.Millisecond)

	stat := p.Stat()
	assert.Equal(t, uint32(2), stat.WriteOperations)
	assert.Equal(t, uint32(1000+4596), r.Head())
}

func TestPipeline_StreamReconstruction(t *testing.T) {
	p, r, source := openTestPipeline(t)
	defer r.Close()
	defer p.Close()

	// 大小不一的数据突发, 最终拼起来必须和原始字节流一致
	var sent []byte
	sizes := []int{1, 300, 4096, 5000, 12000, 7, 2048, 9999, 1}
	for _, n := range sizes {
		burst := utils.RandomValue(n)
		for len(burst) > 0 {
			pushed := source.Push(burst)
			if pushed > 0 {
				sent = append(sent, burst...)
				break
			}
			// 队列满时等管道消化一下
			time.Sleep(5 * time.Millisecond)
		}
	}

	require.Nil(t, p.Flush())
	assert.Eventually(t, func() bool {
		return p.Stat().BytesWritten == uint64(len(sent))
	}, 2*time.Second, 10*time.Millisecond)

	buf := make([]byte, len(sent))
	n, err := r.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, len(sent), n)
	assert.Equal(t, sent, buf)
}

func TestPipeline_DropOnWriteFailure(t *testing.T) {
	r, device, _ := openTestRing(t, 65536, 4096)
	defer r.Close()
	source := transport.NewBuffer(64 * 1024)
	p, err := NewPipeline(r, source, PipelineOptions{
		WriteChunkSize: 12 * 1024,
		FlushTimeout:   100 * time.Millisecond,
		DrainTimeout:   10 * time.Millisecond,
		AutoStart:      true,
	})
	require.Nil(t, err)
	defer p.Close()

	// 注入写入错误, 数据按丢弃计数, 管道继续运行
	device.FailWrites(errors.New("write fault injected"))
	source.Push(utils.RandomValue(2 * 4096))

	assert.Eventually(t, func() bool {
		return p.Stat().BytesDropped == uint64(2*4096)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(0), p.Stat().BytesWritten)

	// 恢复后继续写入
	device.FailWrites(nil)
	source.Push(utils.RandomValue(4096))
	assert.Eventually(t, func() bool {
		return p.Stat().BytesWritten == uint64(4096)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipeline_StartStop(t *testing.T) {
	p, r, source := openTestPipeline(t)
	defer r.Close()
	defer p.Close()

	require.Nil(t, p.Stop())
	assert.False(t, p.Stat().Running)

	// 协作式停止, 等一个拉取超时周期让停止生效
	time.Sleep(50 * time.Millisecond)

	// 停止期间不搬运数据
	source.Push(utils.RandomValue(4096))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, uint64(0), p.Stat().BytesWritten)

	// 重复调用无副作用
	require.Nil(t, p.Stop())
	require.Nil(t, p.Start())
	require.Nil(t, p.Start())

	assert.Eventually(t, func() bool {
		return p.Stat().BytesWritten == uint64(4096)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPipeline_FlushWhileStopped(t *testing.T) {
	r, _, _ := openTestRing(t, 262144, 4096)
	defer r.Close()
	source := transport.NewBuffer(64 * 1024)
	p, err := NewPipeline(r, source, PipelineOptions{
		WriteChunkSize: 12 * 1024,
		FlushTimeout:   time.Hour, // 不让空闲刷新干扰
		DrainTimeout:   10 * time.Millisecond,
		AutoStart:      true,
	})
	require.Nil(t, err)
	defer p.Close()

	// 不足一页的数据进入暂存区
	value := utils.RandomValue(100)
	source.Push(value)
	assert.Eventually(t, func() bool {
		return source.Stat().BytesReceived == uint64(100)
	}, 2*time.Second, 5*time.Millisecond)

	require.Nil(t, p.Stop())
	time.Sleep(50 * time.Millisecond)

	// 停止状态下显式刷新照常生效, 信号不会留到下次启动
	require.Nil(t, p.Flush())
	assert.Eventually(t, func() bool {
		return p.Stat().FlushOperations == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(100), p.Stat().BytesWritten)

	require.Nil(t, p.Start())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, uint32(1), p.Stat().FlushOperations)

	buf := make([]byte, 100)
	n, err := r.Read(buf)
	assert.Nil(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, value, buf)
}

func TestPipeline_ResetStats(t *testing.T) {
	p, r, source := openTestPipeline(t)
	defer r.Close()
	defer p.Close()

	source.Push(utils.RandomValue(4096))
	assert.Eventually(t, func() bool {
		return p.Stat().BytesWritten == uint64(4096)
	}, 2*time.Second, 10*time.Millisecond)

	p.ResetStats()
	stat := p.Stat()
	assert.Equal(t, uint64(0), stat.BytesWritten)
	assert.Equal(t, uint32(0), stat.WriteOperations)
	assert.True(t, stat.Running)
}

func TestPipeline_Format(t *testing.T) {
	p, r, source := openTestPipeline(t)
	defer r.Close()
	defer p.Close()

	source.Push(utils.RandomValue(4096))
	assert.Eventually(t, func() bool {
		return p.Stat().BytesWritten == uint64(4096)
	}, 2*time.Second, 10*time.Millisecond)

	// 格式化 = 擦除存储 + 重置管道和数据源的统计
	require.Nil(t, r.Erase())
	p.ResetStats()
	source.ResetStats()

	assert.Equal(t, uint32(0), r.Stat().UsedBytes)
	assert.Equal(t, uint64(0), p.Stat().BytesWritten)
	assert.Equal(t, uint64(0), source.Stat().BytesPushed)
}

func TestPipeline_Close(t *testing.T) {
	p, r, _ := openTestPipeline(t)
	defer r.Close()

	require.Nil(t, p.Close())
	assert.Equal(t, ErrPipelineClosed, p.Start())
	assert.Equal(t, ErrPipelineClosed, p.Stop())
	assert.Equal(t, ErrPipelineClosed, p.Flush())

	// 重复关闭无副作用
	assert.Nil(t, p.Close())
}
