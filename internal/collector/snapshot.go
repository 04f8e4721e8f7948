package collector

import (
	"bytes"
	"encoding/json"
)

// Snapshot 一次采集结果：指标名 -> 字符串值，JSON 编码保持插入顺序
type Snapshot struct {
	keys   []string
	values map[string]string
}

// NewSnapshot 创建空快照
func NewSnapshot() *Snapshot {
	return &Snapshot{values: make(map[string]string)}
}

// Set 写入指标值，重复写入覆盖值但不改变顺序
func (s *Snapshot) Set(name, value string) {
	if _, ok := s.values[name]; !ok {
		s.keys = append(s.keys, name)
	}
	s.values[name] = value
}

// Get 读取指标值
func (s *Snapshot) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Len 指标数量
func (s *Snapshot) Len() int { return len(s.keys) }

// Names 按插入顺序返回指标名
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// MarshalJSON 输出 {"a":"1","b":"2"}，字段顺序与插入顺序一致
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range s.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
