package storage

import (
	"strconv"
)

// StrToUint 将十进制字符串转换为 uint，线路上的 ID 都是字符串。
func StrToUint(s string) (uint, error) {
	val, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(val), nil
}
