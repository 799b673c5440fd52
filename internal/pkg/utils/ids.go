package utils

import (
	"encoding/json"

	"github.com/google/uuid"
)

// GenerateUUID 生成一个新的随机UUID字符串，用作实体主键的对外标识
func GenerateUUID() string {
	return uuid.NewString()
}

// StringSliceToJSONArray 将字符串切片编码为JSON数组字节流，供GORM自定义类型的Value()使用
func StringSliceToJSONArray(items []string) ([]byte, error) {
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

// JSONArrayToStringSlice 将JSON数组字节流解码为字符串切片，供GORM自定义类型的Scan()使用
func JSONArrayToStringSlice(data []byte) ([]string, error) {
	if len(data) == 0 {
		return []string{}, nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
