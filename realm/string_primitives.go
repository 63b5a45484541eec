package realm

import (
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/chazu/ecmavm/vm"
)

var (
	upper = cases.Upper(language.Und)
	lower = cases.Lower(language.Und)
)

// thisString converts the receiver of a String.prototype method.
func (r *Realm) thisString(this vm.Value, method string) (string, vm.Value) {
	if this.IsNullish() {
		return "", r.throw(vm.TypeError, "String.prototype."+method+" called on null or undefined")
	}
	return r.ToString(unbox(this))
}

// stringMethod adapts a method body over the receiver's code points.
func (r *Realm) stringMethod(name string, body func(s []rune, args []vm.Value) vm.Value) {
	r.method(r.stringProto, name, func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		s, exc := r.thisString(this, name)
		if exc.IsException() {
			return exc
		}
		return body([]rune(s), args)
	})
}

// stringArg converts args[i] to a string.
func (r *Realm) stringArg(args []vm.Value, i int) (string, vm.Value) {
	return r.ToString(arg(args, i))
}

func (r *Realm) registerStringPrimitives() {
	ctor := r.constructor("String", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if len(args) == 0 {
			return r.str("")
		}
		if args[0].IsSymbol() {
			return r.str("Symbol(" + args[0].Str() + ")")
		}
		return r.toStringValue(args[0])
	}, func(e *vm.Engine, newTarget vm.Value, args []vm.Value) vm.Value {
		s := r.str("")
		if len(args) > 0 {
			s = r.toStringValue(args[0])
			if s.IsException() {
				return s
			}
		}
		defer s.Free()
		return r.ToObject(s)
	}, r.stringProto)

	// String.fromCharCode - string from code units
	r.method(ctor, "fromCharCode", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		var b strings.Builder
		for _, a := range args {
			n, exc := r.ToNumber(a)
			if exc.IsException() {
				return exc
			}
			b.WriteRune(rune(ToUint32(n) & 0xffff))
		}
		return r.str(b.String())
	})

	// toString, valueOf - the primitive string
	unwrap := func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if v := unbox(this); v.IsString() {
			return v.Copy()
		}
		return r.throw(vm.TypeError, "String.prototype.valueOf requires that 'this' be a String")
	}
	r.method(r.stringProto, "toString", unwrap)
	r.method(r.stringProto, "valueOf", unwrap)

	// charAt - the code point at an index
	r.stringMethod("charAt", func(s []rune, args []vm.Value) vm.Value {
		i, exc := r.ToNumber(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		if i != i {
			i = 0
		}
		if i < 0 || int(i) >= len(s) {
			return r.str("")
		}
		return r.str(string(s[int(i)]))
	})
	// charCodeAt, codePointAt - the numeric code point at an index
	codeAt := func(s []rune, args []vm.Value) vm.Value {
		i, exc := r.ToNumber(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		if i != i {
			i = 0
		}
		if i < 0 || int(i) >= len(s) {
			return vm.FromFloat(math.NaN())
		}
		return vm.FromInt(int64(s[int(i)]))
	}
	r.stringMethod("charCodeAt", codeAt)
	r.stringMethod("codePointAt", codeAt)
	// indexOf - first occurrence of a substring
	r.stringMethod("indexOf", func(s []rune, args []vm.Value) vm.Value {
		sub, exc := r.stringArg(args, 0)
		if exc.IsException() {
			return exc
		}
		start, exc := r.relativeIndex(arg(args, 1), len(s), 0)
		if exc.IsException() {
			return exc
		}
		i := strings.Index(string(s[start:]), sub)
		if i < 0 {
			return vm.FromInt(-1)
		}
		return vm.FromInt(int64(start + len([]rune(string(s[start:])[:i]))))
	})
	// includes - substring test
	r.stringMethod("includes", func(s []rune, args []vm.Value) vm.Value {
		if regexpOf(arg(args, 0)) != nil {
			return r.throw(vm.TypeError, "First argument to String.prototype.includes must not be a regular expression")
		}
		sub, exc := r.stringArg(args, 0)
		if exc.IsException() {
			return exc
		}
		return vm.FromBool(strings.Contains(string(s), sub))
	})
	// startsWith - prefix test
	r.stringMethod("startsWith", func(s []rune, args []vm.Value) vm.Value {
		sub, exc := r.stringArg(args, 0)
		if exc.IsException() {
			return exc
		}
		return vm.FromBool(strings.HasPrefix(string(s), sub))
	})
	// endsWith - suffix test
	r.stringMethod("endsWith", func(s []rune, args []vm.Value) vm.Value {
		sub, exc := r.stringArg(args, 0)
		if exc.IsException() {
			return exc
		}
		return vm.FromBool(strings.HasSuffix(string(s), sub))
	})
	// slice - substring with relative indices
	r.stringMethod("slice", func(s []rune, args []vm.Value) vm.Value {
		start, exc := r.relativeIndex(arg(args, 0), len(s), 0)
		if exc.IsException() {
			return exc
		}
		end, exc := r.relativeIndex(arg(args, 1), len(s), len(s))
		if exc.IsException() {
			return exc
		}
		if end < start {
			return r.str("")
		}
		return r.str(string(s[start:end]))
	})
	// substring - substring with clamped, ordered indices
	r.stringMethod("substring", func(s []rune, args []vm.Value) vm.Value {
		clamp := func(v vm.Value, def int) (int, vm.Value) {
			if v.IsUndefined() {
				return def, vm.Undefined
			}
			n, exc := r.ToNumber(v)
			if exc.IsException() {
				return 0, exc
			}
			switch {
			case n != n || n < 0:
				return 0, vm.Undefined
			case n > float64(len(s)):
				return len(s), vm.Undefined
			}
			return int(n), vm.Undefined
		}
		start, exc := clamp(arg(args, 0), 0)
		if exc.IsException() {
			return exc
		}
		end, exc := clamp(arg(args, 1), len(s))
		if exc.IsException() {
			return exc
		}
		if start > end {
			start, end = end, start
		}
		return r.str(string(s[start:end]))
	})
	// toUpperCase - full Unicode case mapping
	r.stringMethod("toUpperCase", func(s []rune, args []vm.Value) vm.Value {
		return r.str(upper.String(string(s)))
	})
	// toLowerCase - full Unicode case mapping
	r.stringMethod("toLowerCase", func(s []rune, args []vm.Value) vm.Value {
		return r.str(lower.String(string(s)))
	})
	// trim, trimStart, trimEnd - strip whitespace
	r.stringMethod("trim", func(s []rune, args []vm.Value) vm.Value {
		return r.str(strings.TrimSpace(string(s)))
	})
	r.stringMethod("trimStart", func(s []rune, args []vm.Value) vm.Value {
		return r.str(strings.TrimLeftFunc(string(s), unicode.IsSpace))
	})
	r.stringMethod("trimEnd", func(s []rune, args []vm.Value) vm.Value {
		return r.str(strings.TrimRightFunc(string(s), unicode.IsSpace))
	})
	// repeat - concatenate copies
	r.stringMethod("repeat", func(s []rune, args []vm.Value) vm.Value {
		n, exc := r.ToNumber(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		if n < 0 || math.IsInf(n, 1) {
			return r.throw(vm.RangeError, "Invalid count value: "+vm.FormatNumber(n))
		}
		if n != n {
			n = 0
		}
		return r.str(strings.Repeat(string(s), int(n)))
	})
	// padStart, padEnd - pad to a length
	pad := func(atStart bool) func(s []rune, args []vm.Value) vm.Value {
		return func(s []rune, args []vm.Value) vm.Value {
			n, exc := r.ToNumber(arg(args, 0))
			if exc.IsException() {
				return exc
			}
			filler := " "
			if f := arg(args, 1); !f.IsUndefined() {
				str, exc := r.ToString(f)
				if exc.IsException() {
					return exc
				}
				filler = str
			}
			want := int(n) - len(s)
			if want <= 0 || filler == "" {
				return r.str(string(s))
			}
			fill := []rune(strings.Repeat(filler, want/len([]rune(filler))+1))[:want]
			if atStart {
				return r.str(string(fill) + string(s))
			}
			return r.str(string(s) + string(fill))
		}
	}
	r.stringMethod("padStart", pad(true))
	r.stringMethod("padEnd", pad(false))
	// split - split on a string separator
	r.stringMethod("split", func(s []rune, args []vm.Value) vm.Value {
		sepArg := arg(args, 0)
		if sepArg.IsUndefined() {
			return r.newArrayOwned([]vm.Value{r.str(string(s))})
		}
		var parts []string
		if re := regexpOf(sepArg); re != nil {
			str := string(s)
			last := 0
			m, err := re.re.FindStringMatch(str)
			for m != nil && err == nil {
				if m.Length > 0 || m.Index > last {
					parts = append(parts, string(s[last:m.Index]))
					last = m.Index + m.Length
				}
				m, err = re.re.FindNextMatch(m)
			}
			parts = append(parts, string(s[last:]))
		} else {
			sep, exc := r.ToString(sepArg)
			if exc.IsException() {
				return exc
			}
			if sep == "" {
				for _, c := range s {
					parts = append(parts, string(c))
				}
			} else {
				parts = strings.Split(string(s), sep)
			}
		}
		out := make([]vm.Value, len(parts))
		for i, p := range parts {
			out[i] = r.str(p)
		}
		return r.newArrayOwned(out)
	})
	// replace, replaceAll - substitute matches of a string or RegExp
	r.method(r.stringProto, "replace", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.replace(e, this, args, false)
	})
	r.method(r.stringProto, "replaceAll", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return r.replace(e, this, args, true)
	})
	// match - exec or collect every global match
	r.method(r.stringProto, "match", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		s, exc := r.thisString(this, "match")
		if exc.IsException() {
			return exc
		}
		pattern := arg(args, 0)
		re := regexpOf(pattern)
		if re == nil {
			compiled, exc := r.regexpFromValue(pattern)
			if exc.IsException() {
				return exc
			}
			re = compiled
		}
		if re.global {
			return r.matchAll(re, s)
		}
		m, err := re.re.FindStringMatch(s)
		if err != nil {
			return r.throw(vm.ErrorCommon, err.Error())
		}
		if m == nil {
			return vm.Null
		}
		return r.matchArray(m, s)
	})
	// [Symbol.iterator] - iterate code points
	r.symbolMethod(r.stringProto, r.symIterator, "[Symbol.iterator]", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		s, exc := r.thisString(this, "[Symbol.iterator]")
		if exc.IsException() {
			return exc
		}
		sv := r.str(s)
		defer sv.Free()
		return r.newListIterator(sv, iterValues)
	})
}

func (r *Realm) regexpFromValue(v vm.Value) (*RegExp, vm.Value) {
	src := "(?:)"
	if !v.IsUndefined() {
		s, exc := r.ToString(v)
		if exc.IsException() {
			return nil, exc
		}
		src = s
	}
	compiled, exc := r.CompileRegExp(src, "")
	if exc.IsException() {
		return nil, exc
	}
	return compiled.(*RegExp), vm.Undefined
}

func (r *Realm) replace(e *vm.Engine, this vm.Value, args []vm.Value, all bool) vm.Value {
	s, exc := r.thisString(this, "replace")
	if exc.IsException() {
		return exc
	}
	pattern, replacement := arg(args, 0), arg(args, 1)
	if re := regexpOf(pattern); re != nil {
		if all && !re.global {
			return r.throw(vm.TypeError, "replaceAll must be called with a global RegExp")
		}
		return r.replaceRegExp(e, re, s, replacement)
	}
	needle, exc := r.ToString(pattern)
	if exc.IsException() {
		return exc
	}
	var b strings.Builder
	rest := s
	for {
		i := strings.Index(rest, needle)
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		if vm.IsCallable(replacement) {
			m := r.str(needle)
			res := e.Call(replacement, vm.Undefined, []vm.Value{m, vm.FromInt(int64(len(s) - len(rest) + i))})
			m.Free()
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
			str, exc := r.ToString(replacement)
			if exc.IsException() {
				return exc
			}
			b.WriteString(strings.ReplaceAll(strings.ReplaceAll(str, "$&", needle), "$$", "$"))
		}
		rest = rest[i+len(needle):]
		if !all || needle == "" {
			break
		}
	}
	b.WriteString(rest)
	return r.str(b.String())
}

// ---------------------------------------------------------------------------
// Number, Boolean, Symbol, BigInt
// ---------------------------------------------------------------------------

func (r *Realm) registerNumberPrimitives() {
	toNumber := func(args []vm.Value) vm.Value {
		if len(args) == 0 {
			return vm.FromInt(0)
		}
		num := r.toNumeric(args[0])
		if num.IsBigInt() {
			f, _ := new(big.Float).SetInt(num.BigInt()).Float64()
			num.Free()
			return vm.FromFloat(f)
		}
		return num
	}
	ctor := r.constructor("Number", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return toNumber(args)
	}, func(e *vm.Engine, newTarget vm.Value, args []vm.Value) vm.Value {
		n := toNumber(args)
		if n.IsException() {
			return n
		}
		return r.ToObject(n)
	}, r.numberProto)

	data(ctor, "MAX_SAFE_INTEGER", vm.FromFloat(1<<53-1), 0)
	data(ctor, "MIN_SAFE_INTEGER", vm.FromFloat(-(1<<53 - 1)), 0)
	data(ctor, "EPSILON", vm.FromFloat(math.Nextafter(1, 2)-1), 0)
	// Number.isInteger
	r.method(ctor, "isInteger", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		v := arg(args, 0)
		return vm.FromBool(v.IsNumber() && !math.IsInf(v.Number(), 0) && v.Number() == math.Trunc(v.Number()))
	})
	// Number.isNaN - no conversion
	r.method(ctor, "isNaN", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return vm.FromBool(isNaNValue(arg(args, 0)))
	})

	thisNumber := func(this vm.Value) (float64, vm.Value) {
		if v := unbox(this); v.IsNumber() {
			return v.Number(), vm.Undefined
		}
		return 0, r.throw(vm.TypeError, "Number.prototype method requires that 'this' be a Number")
	}
	// toString - radix formatting
	r.method(r.numberProto, "toString", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		n, exc := thisNumber(this)
		if exc.IsException() {
			return exc
		}
		radix := 10
		if rv := arg(args, 0); !rv.IsUndefined() {
			f, exc := r.ToNumber(rv)
			if exc.IsException() {
				return exc
			}
			radix = int(f)
			if radix < 2 || radix > 36 {
				return r.throw(vm.RangeError, "toString() radix must be between 2 and 36")
			}
		}
		if radix == 10 || n != math.Trunc(n) || math.IsInf(n, 0) {
			return r.str(vm.FormatNumber(n))
		}
		return r.str(strconv.FormatInt(int64(n), radix))
	})
	// toFixed - fixed-point notation
	r.method(r.numberProto, "toFixed", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		n, exc := thisNumber(this)
		if exc.IsException() {
			return exc
		}
		d, exc := r.ToNumber(arg(args, 0))
		if exc.IsException() {
			return exc
		}
		if d != d {
			d = 0
		}
		if d < 0 || d > 100 {
			return r.throw(vm.RangeError, "toFixed() digits argument must be between 0 and 100")
		}
		if math.Abs(n) >= 1e21 || n != n {
			return r.str(vm.FormatNumber(n))
		}
		return r.str(strconv.FormatFloat(n, 'f', int(d), 64))
	})
	// valueOf - the primitive number
	r.method(r.numberProto, "valueOf", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		n, exc := thisNumber(this)
		if exc.IsException() {
			return exc
		}
		return vm.FromFloat(n)
	})

	r.constructor("Boolean", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return vm.FromBool(r.ToBoolean(arg(args, 0)))
	}, func(e *vm.Engine, newTarget vm.Value, args []vm.Value) vm.Value {
		return r.ToObject(vm.FromBool(r.ToBoolean(arg(args, 0))))
	}, r.booleanProto)
	thisBool := func(this vm.Value) vm.Value {
		if v := unbox(this); v.IsBool() {
			return v
		}
		return r.throw(vm.TypeError, "Boolean.prototype method requires that 'this' be a Boolean")
	}
	// toString - "true" or "false"
	r.method(r.booleanProto, "toString", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		b := thisBool(this)
		if b.IsException() {
			return b
		}
		return r.str(strconv.FormatBool(b.Bool()))
	})
	// valueOf - the primitive boolean
	r.method(r.booleanProto, "valueOf", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		return thisBool(this)
	})

	r.constructor("BigInt", r.bigintCall, nil, r.bigintProto)
	// toString - decimal digits without the suffix
	r.method(r.bigintProto, "toString", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if v := unbox(this); v.IsBigInt() {
			return r.str(v.BigInt().String())
		}
		return r.throw(vm.TypeError, "BigInt.prototype.toString requires that 'this' be a BigInt")
	})
	// valueOf - the primitive bigint
	r.method(r.bigintProto, "valueOf", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if v := unbox(this); v.IsBigInt() {
			return v.Copy()
		}
		return r.throw(vm.TypeError, "BigInt.prototype.valueOf requires that 'this' be a BigInt")
	})
}

// bigintCall implements BigInt(value).
func (r *Realm) bigintCall(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
	p := r.ToPrimitive(arg(args, 0), hintNumber)
	if p.IsException() {
		return p
	}
	defer p.Free()
	switch {
	case p.IsBigInt():
		return p.Copy()
	case p.IsNumber():
		f := p.Number()
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return r.throw(vm.RangeError, "The number "+vm.FormatNumber(f)+" cannot be converted to a BigInt because it is not an integer")
		}
		b, _ := big.NewFloat(f).Int(nil)
		return r.heap.NewBigInt(b)
	case p.IsBool():
		return r.heap.NewBigInt(big.NewInt(int64(boolNumber(p))))
	case p.IsString():
		s := strings.TrimSpace(p.Str())
		if s == "" {
			return r.heap.NewBigInt(new(big.Int))
		}
		b, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return r.throw(vm.SyntaxError, "Cannot convert "+p.Str()+" to a BigInt")
		}
		return r.heap.NewBigInt(b)
	}
	return r.throw(vm.TypeError, "Cannot convert "+p.String()+" to a BigInt")
}

func (r *Realm) registerSymbolPrimitives() {
	ctor := r.constructor("Symbol", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		desc := ""
		if d := arg(args, 0); !d.IsUndefined() {
			s, exc := r.ToString(d)
			if exc.IsException() {
				return exc
			}
			desc = s
		}
		return r.heap.NewSymbol(desc)
	}, nil, r.symbolProto)
	data(ctor, "iterator", r.symIterator.Copy(), 0)
	data(ctor, "asyncIterator", r.symAsyncIterator.Copy(), 0)

	// toString - "Symbol(description)"
	r.method(r.symbolProto, "toString", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if v := unbox(this); v.IsSymbol() {
			return r.str("Symbol(" + v.Str() + ")")
		}
		return r.throw(vm.TypeError, "Symbol.prototype.toString requires that 'this' be a Symbol")
	})
	r.getter(r.symbolProto, "description", func(e *vm.Engine, this vm.Value, args []vm.Value) vm.Value {
		if v := unbox(this); v.IsSymbol() {
			return r.str(v.Str())
		}
		return vm.Undefined
	})
}
