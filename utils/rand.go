package utils

import (
	"math/rand"
	"time"
)

var (
	randBytes = rand.New(rand.NewSource(time.Now().UnixNano()))
	letters   = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
)

// RandomValue 生成指定长度的随机数据, 用于测试
func RandomValue(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[randBytes.Intn(len(letters))]
	}
	return b
}
