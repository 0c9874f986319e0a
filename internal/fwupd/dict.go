package fwupd

import (
	"time"

	"github.com/godbus/dbus/v5"
)

// dict is an a{sv} dictionary as sent by the daemon. Missing keys and values
// of an unexpected type read as zero values.
type dict map[string]dbus.Variant

func (d dict) value(key string) interface{} {
	v, ok := d[key]
	if !ok {
		return nil
	}
	return v.Value()
}

func (d dict) str(key string) string {
	s, _ := d.value(key).(string)
	return s
}

func (d dict) boolean(key string) bool {
	b, _ := d.value(key).(bool)
	return b
}

func (d dict) u32(key string) uint32 {
	switch v := d.value(key).(type) {
	case uint32:
		return v
	case uint16:
		return uint32(v)
	case byte:
		return uint32(v)
	}
	return 0
}

func (d dict) u64(key string) uint64 {
	switch v := d.value(key).(type) {
	case uint64:
		return v
	case uint32:
		return uint64(v)
	}
	return 0
}

func (d dict) i32(key string) int32 {
	switch v := d.value(key).(type) {
	case int32:
		return v
	case int16:
		return int32(v)
	}
	return 0
}

// strs reads an "as" value. Older daemons send some list keys as a single string.
func (d dict) strs(key string) []string {
	switch v := d.value(key).(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// timestamp reads unix seconds.
func (d dict) timestamp(key string) time.Time {
	secs := d.u64(key)
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(int64(secs), 0).UTC()
}

func (d dict) seconds(key string) time.Duration {
	return time.Duration(d.u32(key)) * time.Second
}

func decodeAll[T any](raw []map[string]dbus.Variant, decode func(dict) T) []T {
	res := make([]T, 0, len(raw))
	for _, d := range raw {
		res = append(res, decode(dict(d)))
	}
	return res
}
