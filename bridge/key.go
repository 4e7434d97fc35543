package bridge

import (
	"cmp"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/pkg/errors"
)

var keySeq atomic.Uint64

// EmbeddedObjectKey 标识一个已嵌入的宿主对象或宿主类型。
// 引用类型（指针、map、chan）按地址识别，同一对象得到相同的键；
// 值类型无法判断同一性，每次嵌入都会分配新的序号。
// 指向零大小类型的指针可能共用地址，同样按序号区分。
type EmbeddedObjectKey struct {
	TypeName string
	Address  uintptr
	Seq      uint64
	Static   bool
}

// ObjectKey 计算宿主对象的键
func ObjectKey(obj any) (EmbeddedObjectKey, error) {
	if obj == nil {
		return EmbeddedObjectKey{}, errors.Wrap(ErrInvalidArgument, "nil host object")
	}

	v := reflect.ValueOf(obj)
	key := EmbeddedObjectKey{TypeName: QualifiedName(v.Type())}

	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return EmbeddedObjectKey{}, errors.Wrapf(ErrInvalidArgument, "nil %s", key.TypeName)
		}
		key.Address = v.Pointer()
		if v.Kind() == reflect.Pointer && v.Type().Elem().Size() == 0 {
			key.Seq = keySeq.Add(1)
		}
	case reflect.Func, reflect.Slice:
		if v.IsNil() {
			return EmbeddedObjectKey{}, errors.Wrapf(ErrInvalidArgument, "nil %s", key.TypeName)
		}
		key.Seq = keySeq.Add(1)
	default:
		key.Seq = keySeq.Add(1)
	}
	return key, nil
}

// TypeKey 计算宿主类型描述的键，同一描述对象得到相同的键
func TypeKey(h *HostType) (EmbeddedObjectKey, error) {
	if h == nil || h.Type == nil {
		return EmbeddedObjectKey{}, errors.Wrap(ErrInvalidArgument, "nil host type")
	}
	return EmbeddedObjectKey{
		TypeName: h.Name,
		Address:  reflect.ValueOf(h).Pointer(),
		Static:   true,
	}, nil
}

// Compare 依次比较类型名、静态标记、地址与序号
func (k EmbeddedObjectKey) Compare(o EmbeddedObjectKey) int {
	if c := cmp.Compare(k.TypeName, o.TypeName); c != 0 {
		return c
	}
	if k.Static != o.Static {
		if k.Static {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(k.Address, o.Address); c != 0 {
		return c
	}
	return cmp.Compare(k.Seq, o.Seq)
}

func (k EmbeddedObjectKey) Less(o EmbeddedObjectKey) bool {
	return k.Compare(o) < 0
}

func (k EmbeddedObjectKey) String() string {
	if k.Static {
		return fmt.Sprintf("type %s", k.TypeName)
	}
	if k.Address != 0 {
		return fmt.Sprintf("%s@%#x", k.TypeName, k.Address)
	}
	return fmt.Sprintf("%s#%d", k.TypeName, k.Seq)
}
