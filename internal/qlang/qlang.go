// Package qlang implements the restricted query expression language:
// a fetch() call wrapped in a closed set of post-processing operators
// (deriv, topk, mean, roundX, roundY). Expressions are parsed into a typed
// AST and interpreted against a Fetcher; there is no general-purpose
// evaluation of any kind.
package qlang

import (
	"context"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"

	"github.com/mistio/tsfdb-server/internal/errors"
	"github.com/mistio/tsfdb-server/internal/tsdb"
)

// Expr is the root of a parsed query expression.
type Expr struct {
	Call *Call `@@`
}

// Call is a function application: an operator name and its arguments.
type Call struct {
	Name string `@Ident`
	Args []*Arg `"(" ( @@ ( "," @@ )* )? ")"`
}

// Arg is one argument: a nested call, a keyword argument, a string or a
// number.
type Arg struct {
	Named *NamedArg `  @@`
	Call  *Call     `| @@`
	Str   *string   `| @String`
	Num   *float64  `| @(Int | Float)`
}

// NamedArg is a keyword argument such as start="-10m" or k=5.
type NamedArg struct {
	Name string   `@Ident "="`
	Str  *string  `( @String`
	Num  *float64 `| @(Int | Float) )`
}

var parser = participle.MustBuild[Expr](
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

// Fetcher resolves a fetch() call's targets into series. The query engine's
// FetchList satisfies this.
type Fetcher interface {
	Fetch(ctx context.Context, targets []string, start, stop time.Time) (tsdb.SeriesSet, error)
}

// Evaluator parses and runs query expressions.
type Evaluator struct {
	fetcher Fetcher
	now     func() time.Time
}

// New creates an evaluator over the given fetcher.
func New(fetcher Fetcher) *Evaluator {
	return &Evaluator{fetcher: fetcher, now: time.Now}
}

// Eval parses and evaluates one query expression. Syntax errors, unknown
// operators and argument type mismatches are all bad requests.
func (e *Evaluator) Eval(ctx context.Context, query string) (tsdb.SeriesSet, error) {
	expr, err := parser.ParseString("", query)
	if err != nil {
		return nil, errors.BadRequestf("parse query %q: %v", query, err)
	}
	return e.evalCall(ctx, expr.Call)
}

func (e *Evaluator) evalCall(ctx context.Context, call *Call) (tsdb.SeriesSet, error) {
	switch call.Name {
	case "fetch":
		return e.evalFetch(ctx, call)
	case "deriv":
		data, _, err := e.dataArgs(ctx, call, nil)
		if err != nil {
			return nil, err
		}
		return Deriv(data), nil
	case "mean":
		data, _, err := e.dataArgs(ctx, call, nil)
		if err != nil {
			return nil, err
		}
		return Mean(data), nil
	case "topk":
		data, kw, err := e.dataArgs(ctx, call, []string{"k"})
		if err != nil {
			return nil, err
		}
		return TopK(data, int(kw.number("k", 20))), nil
	case "roundX":
		data, kw, err := e.dataArgs(ctx, call, []string{"precision", "base"})
		if err != nil {
			return nil, err
		}
		return RoundX(data, int(kw.number("precision", 0)), kw.number("base", 1)), nil
	case "roundY":
		data, kw, err := e.dataArgs(ctx, call, []string{"precision", "base"})
		if err != nil {
			return nil, err
		}
		return RoundY(data, int(kw.number("precision", 0)), kw.number("base", 1)), nil
	default:
		return nil, errors.BadRequestf("unknown operator %q", call.Name)
	}
}

// evalFetch handles fetch(targets, start="", stop="", step=""). Targets are
// comma-separated "resources.metrics" selectors; start/stop accept relative
// and absolute time expressions with a default window of the last ten
// minutes.
func (e *Evaluator) evalFetch(ctx context.Context, call *Call) (tsdb.SeriesSet, error) {
	positional, kw, err := splitArgs(call, []string{"start", "stop", "step"})
	if err != nil {
		return nil, err
	}
	if len(positional) < 1 || len(positional) > 4 {
		return nil, errors.BadRequestf("fetch takes 1 to 4 arguments, got %d", len(positional))
	}

	strArg := func(i int, name string) (string, error) {
		if i < len(positional) {
			if positional[i].Str == nil {
				return "", errors.BadRequestf("fetch %s must be a string", name)
			}
			return *positional[i].Str, nil
		}
		return kw.str(name, ""), nil
	}

	targets, err := strArg(0, "targets")
	if err != nil {
		return nil, err
	}
	startExpr, err := strArg(1, "start")
	if err != nil {
		return nil, err
	}
	stopExpr, err := strArg(2, "stop")
	if err != nil {
		return nil, err
	}
	// step is accepted for interface compatibility and ignored: resolution
	// selection is range-driven.
	if _, err := strArg(3, "step"); err != nil {
		return nil, err
	}

	now := e.now()
	start, stop, err := ParseTimeRange(startExpr, stopExpr, now)
	if err != nil {
		return nil, err
	}

	return e.fetcher.Fetch(ctx, splitTargets(targets), start, stop)
}

// dataArgs evaluates an operator's single data argument (a nested call) and
// collects its allowed keyword arguments.
func (e *Evaluator) dataArgs(ctx context.Context, call *Call, allowed []string) (tsdb.SeriesSet, kwargs, error) {
	positional, kw, err := splitArgs(call, allowed)
	if err != nil {
		return nil, nil, err
	}
	if len(positional) != 1 || positional[0].Call == nil {
		return nil, nil, errors.BadRequestf("%s takes one nested expression argument", call.Name)
	}
	data, err := e.evalCall(ctx, positional[0].Call)
	if err != nil {
		return nil, nil, err
	}
	return data, kw, nil
}

type kwargs map[string]*NamedArg

func (k kwargs) number(name string, def float64) float64 {
	if arg, ok := k[name]; ok && arg.Num != nil {
		return *arg.Num
	}
	return def
}

func (k kwargs) str(name, def string) string {
	if arg, ok := k[name]; ok && arg.Str != nil {
		return *arg.Str
	}
	return def
}

func splitArgs(call *Call, allowed []string) ([]*Arg, kwargs, error) {
	kw := make(kwargs)
	var positional []*Arg
	for _, arg := range call.Args {
		if arg.Named == nil {
			if len(kw) > 0 {
				return nil, nil, errors.BadRequestf("%s: positional argument after keyword argument", call.Name)
			}
			positional = append(positional, arg)
			continue
		}
		ok := false
		for _, name := range allowed {
			if arg.Named.Name == name {
				ok = true
				break
			}
		}
		if !ok {
			return nil, nil, errors.BadRequestf("%s: unknown argument %q", call.Name, arg.Named.Name)
		}
		kw[arg.Named.Name] = arg.Named
	}
	return positional, kw, nil
}

func splitTargets(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
