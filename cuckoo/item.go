package cuckoo

import (
	"strconv"

	"github.com/wyfcoding/cuckoo/xerrors"
)

// Kind 标识元素的可表示类型。
type Kind uint8

const (
	KindInvalid Kind = iota
	KindText
	KindInteger
	KindBytes
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindBytes:
		return "bytes"
	default:
		return "invalid"
	}
}

// Item 是写入过滤器的元素，由调用方在进入过滤器前构造。
// 整数按十进制文本规范化，因此 Int(42) 与 Text("42") 指向同一个指纹。
type Item struct {
	kind Kind
	data []byte
}

// Text 构造文本元素（UTF-8 字节）。
func Text(s string) Item {
	return Item{kind: KindText, data: []byte(s)}
}

// Int 构造有符号整数元素。
func Int(i int64) Item {
	return Item{kind: KindInteger, data: strconv.AppendInt(nil, i, 10)}
}

// Uint 构造无符号整数元素。
func Uint(u uint64) Item {
	return Item{kind: KindInteger, data: strconv.AppendUint(nil, u, 10)}
}

// Bytes 构造原始字节元素，不复制入参。
func Bytes(b []byte) Item {
	return Item{kind: KindBytes, data: b}
}

// Kind 返回元素类型。
func (it Item) Kind() Kind {
	return it.kind
}

// Canonical 返回参与哈希的规范化字节。零值 Item 不可规范化。
func (it Item) Canonical() ([]byte, error) {
	if it.kind == KindInvalid {
		return nil, xerrors.Derive(xerrors.ErrInvalidItemType, nil, "zero Item")
	}
	return it.data, nil
}

// ItemOf 将常见 Go 值转换为 Item，不支持的类型返回 ErrInvalidItemType。
func ItemOf(v any) (Item, error) {
	switch x := v.(type) {
	case Item:
		if x.kind == KindInvalid {
			return Item{}, xerrors.Derive(xerrors.ErrInvalidItemType, nil, "zero Item")
		}
		return x, nil
	case string:
		return Text(x), nil
	case []byte:
		return Bytes(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Uint(uint64(x)), nil
	case uint8:
		return Uint(uint64(x)), nil
	case uint16:
		return Uint(uint64(x)), nil
	case uint32:
		return Uint(uint64(x)), nil
	case uint64:
		return Uint(x), nil
	default:
		return Item{}, xerrors.Derive(xerrors.ErrInvalidItemType, nil, "unsupported item type %T", v)
	}
}
