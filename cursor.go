package flashring

import "encoding/binary"

// 游标魔数, 结构有任何变化都必须更换, 让旧的元数据被拒绝而不是被误读
const cursorMagic uint32 = 0x464C5249

// erasedPageNone 预擦除缓存的空槽位标记
const erasedPageNone = ^uint32(0)

// cursorSize 游标编码后的定长大小
// magic-4 head-4 tail-4 totalWritten-8 wrapCount-4 erasedPages-4*PreErasePages
const cursorSize = 4 + 4 + 4 + 8 + 4 + 4*PreErasePages

// cursor 环形存储的游标信息, 整体作为一个 blob 持久化在元数据存储中
type cursor struct {
	head         uint32                 // 下一次写入的位置
	tail         uint32                 // 最旧有效数据的位置
	totalWritten uint64                 // 累计写入的字节数
	wrapCount    uint32                 // 绕回区域起点的次数
	erasedPages  [PreErasePages]uint32 // 已预擦除的页号缓存
}

// newCursor 初始化一个空游标, 预擦除缓存全部置空
func newCursor() *cursor {
	c := &cursor{}
	for i := 0; i < PreErasePages; i++ {
		c.erasedPages[i] = erasedPageNone
	}
	return c
}

// encodeCursor 对游标进行编码, 返回定长字节数组
func encodeCursor(c *cursor) []byte {
	buf := make([]byte, cursorSize)
	binary.LittleEndian.PutUint32(buf[0:4], cursorMagic)
	binary.LittleEndian.PutUint32(buf[4:8], c.head)
	binary.LittleEndian.PutUint32(buf[8:12], c.tail)
	binary.LittleEndian.PutUint64(buf[12:20], c.totalWritten)
	binary.LittleEndian.PutUint32(buf[20:24], c.wrapCount)
	for i := 0; i < PreErasePages; i++ {
		binary.LittleEndian.PutUint32(buf[24+i*4:28+i*4], c.erasedPages[i])
	}
	return buf
}

// decodeCursor 对字节数组进行解码, 长度或魔数不匹配时返回 false
func decodeCursor(buf []byte) (*cursor, bool) {
	if len(buf) != cursorSize {
		return nil, false
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != cursorMagic {
		return nil, false
	}
	c := &cursor{
		head:         binary.LittleEndian.Uint32(buf[4:8]),
		tail:         binary.LittleEndian.Uint32(buf[8:12]),
		totalWritten: binary.LittleEndian.Uint64(buf[12:20]),
		wrapCount:    binary.LittleEndian.Uint32(buf[20:24]),
	}
	for i := 0; i < PreErasePages; i++ {
		c.erasedPages[i] = binary.LittleEndian.Uint32(buf[24+i*4 : 28+i*4])
	}
	return c, true
}
