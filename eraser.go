package flashring

import (
	"time"

	"golang.org/x/exp/slog"
)

// 预擦除任务: 让写指针前方始终有擦好的页, 写入热路径尽量不用同步擦除
// 擦除缓存由 eraseMu 保护, 临界区只做 O(K) 的扫描和更新,
// 擦除和写入 IO 都在锁外进行, 两侧不会互相等待慢速的闪存操作

func (r *Ring) startEraser() {
	r.eraserDone = make(chan struct{})
	r.eraserWg.Add(1)
	go r.eraseLoop()
}

func (r *Ring) stopEraser() {
	if r.eraserDone == nil {
		return
	}
	close(r.eraserDone)
	r.eraserWg.Wait()
	r.eraserDone = nil
}

func (r *Ring) eraseLoop() {
	defer r.eraserWg.Done()

	r.logger.Info("pre-erase worker started")
	ticker := time.NewTicker(r.options.EraseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.eraserDone:
			r.logger.Info("pre-erase worker stopped")
			return
		case <-ticker.C:
			r.preEraseTick()
		}
	}
}

// preEraseTick 检查写指针前方的页, 擦除第一个不在缓存中的
// 每个周期最多擦一页, 控制单次注入的延迟
func (r *Ring) preEraseTick() {
	currentPage := r.headPos.Load() / r.options.PageSize

	for i := uint32(1); i <= PreErasePages; i++ {
		target := (currentPage + i) % r.totalPages
		// 区域页数太少时前瞻会绕回到当前页, 跳过
		if target == currentPage {
			continue
		}
		if r.isPageErased(target) {
			continue
		}

		r.logger.Debug("pre-erasing page", slog.Uint64("page", uint64(target)))
		if err := r.device.EraseRange(target*r.options.PageSize, r.options.PageSize); err != nil {
			// 不致命, 下个周期重试, 写入路径的同步擦除兜底
			r.logger.Error("pre-erase failed",
				slog.Uint64("page", uint64(target)), slog.Any("error", err))
		} else {
			r.markPageErased(target)
		}
		return
	}
}

// ensurePageErased 保证目标页已擦除, 缓存未命中时同步擦除兜底
// 同步擦除会拖慢写入, 属于预擦除没跟上的退化路径
func (r *Ring) ensurePageErased(page uint32) error {
	if r.isPageErased(page) {
		return nil
	}

	r.logger.Warn("page not pre-erased, erasing synchronously", slog.Uint64("page", uint64(page)))
	if err := r.device.EraseRange(page*r.options.PageSize, r.options.PageSize); err != nil {
		return err
	}
	r.markPageErased(page)
	return nil
}

func (r *Ring) isPageErased(page uint32) bool {
	r.eraseMu.Lock()
	defer r.eraseMu.Unlock()
	for i := 0; i < PreErasePages; i++ {
		if r.cur.erasedPages[i] == page {
			return true
		}
	}
	return false
}

// markPageErased 记录一个刚擦好的页: 优先占空槽位或同页槽位, 否则覆盖 0 号槽位
func (r *Ring) markPageErased(page uint32) {
	r.eraseMu.Lock()
	defer r.eraseMu.Unlock()
	for i := 0; i < PreErasePages; i++ {
		if r.cur.erasedPages[i] == erasedPageNone || r.cur.erasedPages[i] == page {
			r.cur.erasedPages[i] = page
			return
		}
	}
	r.cur.erasedPages[0] = page
}

// clearPageErased 页被写满后从缓存中移除
func (r *Ring) clearPageErased(page uint32) {
	r.eraseMu.Lock()
	defer r.eraseMu.Unlock()
	for i := 0; i < PreErasePages; i++ {
		if r.cur.erasedPages[i] == page {
			r.cur.erasedPages[i] = erasedPageNone
		}
	}
}
