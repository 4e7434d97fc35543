package bridge

import (
	"reflect"
	"strings"
	"unicode"
)

// MemberKind 成员类别
type MemberKind int

const (
	// MemberMethod 可调用成员（方法、静态函数）
	MemberMethod MemberKind = iota
	// MemberField 可读写字段
	MemberField
	// MemberConstant 只读常量
	MemberConstant
)

func (k MemberKind) String() string {
	switch k {
	case MemberMethod:
		return "method"
	case MemberField:
		return "field"
	case MemberConstant:
		return "constant"
	default:
		return "unknown"
	}
}

// Member 嵌入项在脚本中可见的成员
type Member struct {
	Name       string
	Kind       MemberKind
	Candidates []*Candidate

	field    reflect.StructField
	readOnly bool
	constant any
}

// ReadOnly 字段是否不可写
func (m *Member) ReadOnly() bool {
	return m.Kind == MemberConstant || m.readOnly
}

// MemberNamer 将 Go 成员名映射为脚本名
type MemberNamer func(goName string) string

// DefaultMemberNamer 首字母（或首个缩写词）转为小写，"Name_Suffix" 归入重载组 "name"
//
//	DoSomething -> doSomething
//	URL         -> url
//	HTTPServer  -> httpServer
//	Add_Float   -> add
func DefaultMemberNamer(goName string) string {
	if i := strings.IndexByte(goName, '_'); i > 0 {
		goName = goName[:i]
	}

	runes := []rune(goName)
	upper := 0
	for upper < len(runes) && unicode.IsUpper(runes[upper]) {
		upper++
	}

	switch {
	case upper == 0:
		return goName
	case upper == len(runes):
		return strings.ToLower(goName)
	case upper > 1:
		upper--
	}

	for i := 0; i < upper; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// memberTable 按声明顺序保存成员
type memberTable struct {
	names  []string
	byName map[string]*Member
}

func newMemberTable() *memberTable {
	return &memberTable{byName: make(map[string]*Member)}
}

func (t *memberTable) get(name string) (*Member, bool) {
	m, ok := t.byName[name]
	return m, ok
}

func (t *memberTable) add(m *Member) {
	if _, ok := t.byName[m.Name]; !ok {
		t.names = append(t.names, m.Name)
	}
	t.byName[m.Name] = m
}

// addCandidate 将候选项追加到同名方法组
func (t *memberTable) addCandidate(name string, fn reflect.Value) error {
	m, ok := t.byName[name]
	if !ok || m.Kind != MemberMethod {
		m = &Member{Name: name, Kind: MemberMethod}
		t.add(m)
	}
	c, err := NewCandidate(name, len(m.Candidates), fn)
	if err != nil {
		return err
	}
	m.Candidates = append(m.Candidates, c)
	return nil
}

func (t *memberTable) list() []*Member {
	out := make([]*Member, 0, len(t.names))
	for _, name := range t.names {
		out = append(out, t.byName[name])
	}
	return out
}

// reflectInstanceMembers 枚举实例的导出方法与导出字段
func reflectInstanceMembers(v reflect.Value, namer MemberNamer) (*memberTable, error) {
	table := newMemberTable()

	t := v.Type()
	for i := 0; i < t.NumMethod(); i++ {
		method := t.Method(i)
		if !method.IsExported() {
			continue
		}
		if err := table.addCandidate(namer(method.Name), v.Method(i)); err != nil {
			return nil, err
		}
	}

	sv := v
	readOnly := true
	if sv.Kind() == reflect.Pointer {
		sv = sv.Elem()
		readOnly = false
	}
	if sv.Kind() != reflect.Struct {
		return table, nil
	}

	for _, f := range reflect.VisibleFields(sv.Type()) {
		if !f.IsExported() || f.Anonymous {
			continue
		}
		name, ok := fieldName(f, namer)
		if !ok {
			continue
		}
		if _, exists := table.get(name); exists {
			continue
		}
		table.add(&Member{
			Name:     name,
			Kind:     MemberField,
			field:    f,
			readOnly: readOnly,
		})
	}
	return table, nil
}

func fieldName(f reflect.StructField, namer MemberNamer) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, true
	}
	return namer(f.Name), true
}
