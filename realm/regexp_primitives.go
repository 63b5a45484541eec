package realm

import (
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/chazu/ecmavm/vm"
)

// MatchTimeout bounds a single regular expression match.
var MatchTimeout = 2 * time.Second

// ---------------------------------------------------------------------------
// Compiled regular expressions
// ---------------------------------------------------------------------------

// RegExp is the payload of a RegExp object. Compiled patterns are shared
// between every object created from the same literal.
type RegExp struct {
	re     *regexp2.Regexp
	source string
	flags  string
	global bool
	sticky bool
}

// CompileRegExp implements vm.ObjectFactory.
func (r *Realm) CompileRegExp(pattern, flags string) (any, vm.Value) {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	c := &RegExp{source: pattern, flags: flags}
	for i, f := range flags {
		if strings.ContainsRune(flags[:i], f) {
			return nil, r.throw(vm.SyntaxError, "Invalid regular expression flags '"+flags+"'")
		}
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'u':
			opts |= regexp2.Unicode
		case 'g':
			c.global = true
		case 'y':
			c.sticky = true
		case 'd':
		default:
			return nil, r.throw(vm.SyntaxError, "Invalid regular expression flags '"+flags+"'")
		}
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, r.throw(vm.SyntaxError, "Invalid regular expression: /"+pattern+"/: "+err.Error())
	}
	re.MatchTimeout = MatchTimeout
	c.re = re
	return c, vm.Undefined
}

// NewRegExp implements vm.ObjectFactory.
func (r *Realm) NewRegExp(compiled any) vm.Value {
	obj, o := r.newObject(r.regexpProto, vm.ClassRegExp)
	o.Internal = compiled.(*RegExp)
	o.SetOwn(vm.StringKey("lastIndex"), vm.FromInt(0), vm.Writable)
	return obj
}

func regexpOf(v vm.Value) *RegExp {
	if o := v.Object(); o != nil {
		re, _ := o.Internal.(*RegExp)
		return re
	}
	return nil
}

// ---------------------------------------------------------------------------
// Matching
// ---------------------------------------------------------------------------

// exec runs one match of re against s honouring lastIndex for global and
// sticky expressions. It returns nil when there is no match.
func (r *Realm) exec(this vm.Value, re *RegExp, s string) (*regexp2.Match, vm.Value) {
	start := 0
	if re.global || re.sticky {
		li := r.get(this, vm.StringKey("lastIndex"))
		n, exc := r.ToNumber(li)
		li.Free()
		if exc.IsException() {
			return nil, exc
		}
		start = int(n)
		if start < 0 || start > len([]rune(s)) {
			return nil, r.set(this, vm.StringKey("lastIndex"), vm.FromInt(0), true)
		}
	}
	m, err := re.re.FindStringMatchStartingAt(s, start)
	if err != nil {
		return nil, r.throw(vm.ErrorCommon, err.Error())
	}
	if m == nil || (re.sticky && m.Index != start) {
		if re.global || re.sticky {
			return nil, r.set(this, vm.StringKey("lastIndex"), vm.FromInt(0), true)
		}
		return nil, vm.Undefined
	}
	if re.global || re.sticky {
		end := m.Index + m.Length
		if exc := r.set(this, vm.StringKey("lastIndex"), vm.FromInt(int64(end)), true); exc.IsException() {
			return nil, exc
		}
	}
	return m, vm.Undefined
}

// matchArray builds the exec result array of m.
func (r *Realm) matchArray(m *regexp2.Match, input string) vm.Value {
	groups := m.Groups()
	elems := make([]vm.Value, len(groups))
	for i, g := range groups {
		if len(g.Captures) == 0 {
			elems[i] = vm.Undefined
			continue
		}
		elems[i] = r.str(g.String())
	}
	arr := r.newArrayOwned(elems)
	o := arr.Object()
	o.SetOwn(vm.StringKey("index"), vm.FromInt(int64(m.Index)), vm.DefaultFlags)
	o.SetOwn(vm.StringKey("input"), r.str(input), vm.DefaultFlags)
	return arr
}

// expandReplacement substitutes $$, $& and $n in a replacement template.
func expandReplacement(tmpl string, m *regexp2.Match) string {
	if !strings.Contains(tmpl, "$") {
		return tmpl
	}
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '$' || i+1 == len(tmpl) {
			b.WriteByte(c)
			continue
		}
		next := tmpl[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i++
		case next == '&':
			b.WriteString(m.String())
			i++
		case next >= '0' && next <= '9':
			n := int(next - '0')
			if g := m.GroupByNumber(n); g != nil && n > 0 {
				if len(g.Captures) > 0 {
					b.WriteString(g.String())
				}
				i++
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// replaceRegExp implements String.prototype.replace with a RegExp pattern.
// replacement is a template string or a function.
func (r *Realm) replaceRegExp(e *vm.Engine, re *RegExp, s string, replacement vm.Value) vm.Value {
	runes := []rune(s)
	var b strings.Builder
	last := 0
	m, err := re.re.FindStringMatch(s)
	for m != nil && err == nil {
		b.WriteString(string(runes[last:m.Index]))
		if vm.IsCallable(replacement) {
			args := []vm.Value{r.str(m.String())}
			for _, g := range m.Groups()[1:] {
				if len(g.Captures) == 0 {
					args = append(args, vm.Undefined)
				} else {
					args = append(args, r.str(g.String()))
				}
			}
			args = append(args, vm.FromInt(int64(m.Index)), r.str(s))
			res := e.Call(replacement, vm.Undefined, args)
			for _, a := range args {
				a.Free()
			}
			if res.IsException() {
				return res
			}
			str, exc := r.ToString(res)
			res.Free()
			if exc.IsException() {
				return exc
			}
			b.WriteString(str)
		} else {
			tmpl, exc := r.ToString(replacement)
			if exc.IsException() {
				return exc
			}
			b.WriteString(expandReplacement(tmpl, m))
		}
		last = m.Index + m.Length
		if !re.global {
			break
		}
		if m.Length == 0 {
			if last >= len(runes) {
				break
			}
			b.WriteRune(runes[last])
			last++
			m, err = re.re.FindStringMatchStartingAt(s, last)
			continue
		}
		m, err = re.re.FindNextMatch(m)
	}
	if err != nil {
		return r.throw(vm.ErrorCommon, err.Error())
	}
	if last < len(runes) {
		b.WriteString(string(runes[last:]))
	}
	return r.str(b.String())
}

// ---------------------------------------------------------------------------
// RegExp built-ins
// ---------------------------------------------------------------------------

func (r *Realm) registerRegExpPrimitives() {
	r.constructor("RegExp", r.regexpConstruct, func(e *vm.Engine, newTarget vm.Value, args []vm.Value) vm.Value {
		return r.regexpConstruct(e, vm.Undefined, args)
	}, r.regexpProto)

	// exec - match once, returning the match array or null
	r.method(r.regexpProto, "exec", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		re := regexpOf(this)
		if re == nil {
			return r.throw(vm.TypeError, "RegExp.prototype.exec called on incompatible receiver")
		}
		s, exc := r.ToString(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		m, exc := r.exec(this, re, s)
		if exc.IsException() {
			return exc
		}
		if m == nil {
			return vm.Null
		}
		return r.matchArray(m, s)
	})

	// test - report whether the expression matches
	r.method(r.regexpProto, "test", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		re := regexpOf(this)
		if re == nil {
			return r.throw(vm.TypeError, "RegExp.prototype.test called on incompatible receiver")
		}
		s, exc := r.ToString(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		m, exc := r.exec(this, re, s)
		if exc.IsException() {
			return exc
		}
		return vm.FromBool(m != nil)
	})

	// toString - "/source/flags"
	r.method(r.regexpProto, "toString", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		re := regexpOf(this)
		if re == nil {
			return r.str("/(?:)/")
		}
		return r.str("/" + re.source + "/" + re.flags)
	})

	r.getter(r.regexpProto, "source", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if re := regexpOf(this); re != nil {
			return r.str(re.source)
		}
		return vm.Undefined
	})
	r.getter(r.regexpProto, "flags", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if re := regexpOf(this); re != nil {
			return r.str(re.flags)
		}
		return vm.Undefined
	})
	r.getter(r.regexpProto, "global", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if re := regexpOf(this); re != nil {
			return vm.FromBool(re.global)
		}
		return vm.Undefined
	})
}

// regexpConstruct implements RegExp(pattern, flags) for both call and new.
func (r *Realm) regexpConstruct(e *vm.Engine, _ vm.Value, args []vm.Value) vm.Value {
	pattern := arg(args, 0)
	if re := regexpOf(pattern); re != nil && arg(args, 1).IsUndefined() {
		return r.NewRegExp(re)
	}
	src := "(?:)"
	if !pattern.IsUndefined() {
		s, exc := r.ToString(pattern)
		if exc.IsException() {
			return exc
		}
		src = s
	}
	flags := ""
	if f := arg(args, 1); !f.IsUndefined() {
		s, exc := r.ToString(f)
		if exc.IsException() {
			return exc
		}
		flags = s
	}
	compiled, exc := r.CompileRegExp(src, flags)
	if exc.IsException() {
		return exc
	}
	return r.NewRegExp(compiled)
}

// matchAll collects every match for String.prototype.match on a global
// expression. No match yields null.
func (r *Realm) matchAll(re *RegExp, s string) vm.Value {
	var elems []vm.Value
	m, err := re.re.FindStringMatch(s)
	for m != nil && err == nil {
		elems = append(elems, r.str(m.String()))
		if m.Length == 0 {
			next := m.Index + 1
			if next > len([]rune(s)) {
				break
			}
			m, err = re.re.FindStringMatchStartingAt(s, next)
			continue
		}
		m, err = re.re.FindNextMatch(m)
	}
	if err != nil {
		for _, v := range elems {
			v.Free()
		}
		return r.throw(vm.ErrorCommon, err.Error())
	}
	if len(elems) == 0 {
		return vm.Null
	}
	return r.newArrayOwned(elems)
}

func indexKey(i int) vm.PropertyKey { return vm.StringKey(strconv.Itoa(i)) }
