package bridge

import "github.com/pkg/errors"

var (
	// ErrInvalidArgument 嵌入空对象、空类型或空名称
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNoMatch 没有与参数匹配的重载
	ErrNoMatch = errors.New("no matching overload")

	// ErrNotConvertible 值无法转换为目标类型
	ErrNotConvertible = errors.New("value is not convertible")

	// ErrUnknownMember 成员不存在
	ErrUnknownMember = errors.New("unknown member")

	// ErrReadOnly 成员只读
	ErrReadOnly = errors.New("member is read-only")

	// ErrReleased 嵌入项已被释放
	ErrReleased = errors.New("embedded item released")
)
