package bridge

import (
	"context"
	"fmt"
	"reflect"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Candidate 同名重载中的一个可调用项
type Candidate struct {
	Name   string
	Fn     reflect.Value
	Params []reflect.Type
	Index  int

	withContext bool
	variadic    bool
	hasError    bool
}

// NewCandidate 由函数值创建候选项。
// 首个参数为 context.Context 时由调用方注入，不参与匹配。
func NewCandidate(name string, index int, fn reflect.Value) (*Candidate, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return nil, errors.Wrapf(ErrInvalidArgument, "%s is not a function", name)
	}

	t := fn.Type()
	c := &Candidate{
		Name:     name,
		Fn:       fn,
		Index:    index,
		variadic: t.IsVariadic(),
	}

	start := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		c.withContext = true
		start = 1
	}
	for i := start; i < t.NumIn(); i++ {
		c.Params = append(c.Params, t.In(i))
	}

	if n := t.NumOut(); n > 0 && t.Out(n-1) == errorType {
		c.hasError = true
	}
	return c, nil
}

func (c *Candidate) String() string {
	return fmt.Sprintf("%s%s", c.Name, c.Fn.Type().String()[len("func"):])
}

// Match 重载决议结果
type Match struct {
	Candidate *Candidate
	Args      []reflect.Value
	Score     int
}

// Call 调用选中的候选项，返回非 error 的结果。
// 最后一个返回值为 error 时作为调用错误返回，宿主函数 panic 也转换为错误。
func (m *Match) Call(ctx context.Context) (results []any, err error) {
	c := m.Candidate

	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.Wrapf(e, "%s panicked", c.Name)
			} else {
				err = errors.Errorf("%s panicked: %v", c.Name, r)
			}
		}
	}()

	in := m.Args
	if c.withContext {
		if ctx == nil {
			ctx = context.Background()
		}
		in = append([]reflect.Value{reflect.ValueOf(ctx)}, m.Args...)
	}

	var out []reflect.Value
	if c.variadic {
		out = c.Fn.CallSlice(in)
	} else {
		out = c.Fn.Call(in)
	}

	if c.hasError {
		last := out[len(out)-1]
		out = out[:len(out)-1]
		if !last.IsNil() {
			return nil, last.Interface().(error)
		}
	}

	results = make([]any, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results, nil
}

// Resolver 重载决议器
type Resolver struct {
	coercer *Coercer
}

func NewResolver(coercer *Coercer) *Resolver {
	if coercer == nil {
		coercer = NewCoercer(false)
	}
	return &Resolver{coercer: coercer}
}

func (r *Resolver) Coercer() *Coercer {
	return r.coercer
}

// Resolve 选择与参数最匹配的候选项。
// 参数个数必须一致；类型完全一致的位置得 1 分，可转换的位置得 0 分，任一位置无法转换则淘汰该候选项。
// 得分最高者胜出，同分时先声明者胜出。
func (r *Resolver) Resolve(candidates []*Candidate, args []any) (*Match, error) {
	sameArity := lo.Filter(candidates, func(c *Candidate, _ int) bool {
		return c != nil && len(c.Params) == len(args)
	})

	matches := make([]*Match, 0, len(sameArity))
	for _, c := range sameArity {
		if m, ok := r.score(c, args); ok {
			matches = append(matches, m)
		}
	}

	if len(matches) == 0 {
		name := ""
		if len(candidates) > 0 && candidates[0] != nil {
			name = candidates[0].Name
		}
		return nil, errors.Wrapf(ErrNoMatch, "%s with %d argument(s) %s", name, len(args), describeArgs(args))
	}
	if len(matches) == 1 {
		return matches[0], nil
	}

	return lo.MaxBy(matches, func(a, b *Match) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Candidate.Index < b.Candidate.Index
	}), nil
}

func (r *Resolver) score(c *Candidate, args []any) (*Match, bool) {
	m := &Match{
		Candidate: c,
		Args:      make([]reflect.Value, len(args)),
	}
	for i, arg := range args {
		param := c.Params[i]
		if IsExact(arg, param) {
			m.Args[i] = reflect.ValueOf(arg)
			m.Score++
			continue
		}
		v, err := r.coercer.Coerce(arg, param)
		if err != nil {
			return nil, false
		}
		m.Args[i] = v
	}
	return m, true
}

func describeArgs(args []any) string {
	types := lo.Map(args, func(a any, _ int) string {
		if a == nil {
			return "nil"
		}
		return reflect.TypeOf(a).String()
	})
	return fmt.Sprintf("%v", types)
}
