package eval

import (
	"strconv"
	"strings"

	"github.com/robertoaraneda/gofhir/pkg/fhirpath/hir"
	"github.com/robertoaraneda/gofhir/pkg/fhirpath/types"
)

// Evaluate executes a HIR node against the evaluator's context and returns
// the resulting collection.
func (e *Evaluator) Evaluate(node hir.Node) (types.Collection, error) {
	result := e.eval(node)
	if err, ok := result.(error); ok {
		return nil, err
	}
	if col, ok := result.(types.Collection); ok {
		return col, nil
	}
	return types.Collection{}, nil
}

// eval dispatches on the concrete HIR node type. It returns either a
// types.Collection or an error, mirroring the visitor-return convention the
// teacher's ANTLR-based evaluator used.
func (e *Evaluator) eval(node hir.Node) interface{} {
	if node == nil {
		return types.Collection{}
	}
	switch n := node.(type) {
	case *hir.Null:
		return types.Collection{}
	case *hir.Bool:
		return types.Collection{types.NewBoolean(n.Value)}
	case *hir.Str:
		return types.Collection{types.NewString(n.Value)}
	case *hir.Num:
		return e.evalNum(n)
	case *hir.DateLit:
		d, err := types.NewDate(n.Text)
		if err != nil {
			return ParseError("invalid date: " + n.Text)
		}
		return types.Collection{d}
	case *hir.DateTimeLit:
		dt, err := types.NewDateTime(n.Text)
		if err != nil {
			return ParseError("invalid datetime: " + n.Text)
		}
		return types.Collection{dt}
	case *hir.TimeLit:
		t, err := types.NewTime(n.Text)
		if err != nil {
			return ParseError("invalid time: " + n.Text)
		}
		return types.Collection{t}
	case *hir.QuantityLit:
		text := n.Number.Text
		if n.Unit != "" {
			text += " '" + n.Unit + "'"
		}
		q, err := types.NewQuantity(text)
		if err != nil {
			return ParseError("invalid quantity: " + text)
		}
		return types.Collection{q}
	case *hir.Union:
		return e.evalUnion(n)
	case *hir.ExternalConst:
		if value, ok := e.ctx.GetVariable(n.Name); ok {
			return value
		}
		return NewEvalError(ErrInvalidPath, "undefined variable: %"+n.Name)
	case *hir.ThisRef:
		return e.ctx.This()
	case *hir.IndexRef:
		return types.Collection{types.NewInteger(int64(e.ctx.index))}
	case *hir.TotalRef:
		if e.ctx.total != nil {
			return types.Collection{e.ctx.total}
		}
		return types.Collection{}
	case *hir.Member:
		return e.navigateMember(e.ctx.This(), n.Name)
	case *hir.Invocation:
		return e.evalInvocation(n)
	case *hir.Indexer:
		return e.evalIndexer(n)
	case *hir.Polarity:
		return e.evalPolarity(n)
	case *hir.Binary:
		return e.evalBinary(n)
	case *hir.TypeOp:
		return e.evalTypeOp(n)
	case *hir.HigherOrder:
		return e.evalHigherOrder(n)
	case *hir.Iif:
		return e.evalIif(n)
	case *hir.FuncCall:
		return e.evalFuncCall(n)
	default:
		return NewEvalError(ErrInvalidExpression, "unsupported HIR node %T", node)
	}
}

func (e *Evaluator) evalNum(n *hir.Num) interface{} {
	if !n.IsLong && !strings.Contains(n.Text, ".") {
		if i, err := strconv.ParseInt(n.Text, 10, 64); err == nil {
			return types.Collection{types.NewInteger(i)}
		}
	}
	d, err := types.NewDecimal(n.Text)
	if err != nil {
		return ParseError("invalid number: " + n.Text)
	}
	return types.Collection{d}
}

func (e *Evaluator) collOf(v interface{}) (types.Collection, error) {
	if err, ok := v.(error); ok {
		return nil, err
	}
	return v.(types.Collection), nil
}

func (e *Evaluator) evalUnion(n *hir.Union) interface{} {
	left, err := e.collOf(e.eval(n.Left))
	if err != nil {
		return err
	}
	right, err := e.collOf(e.eval(n.Right))
	if err != nil {
		return err
	}
	return Union(left, right)
}

func (e *Evaluator) evalInvocation(n *hir.Invocation) interface{} {
	base, err := e.collOf(e.eval(n.Target))
	if err != nil {
		return err
	}
	oldThis := e.ctx.this
	e.ctx.this = base
	defer func() { e.ctx.this = oldThis }()
	return e.eval(n.Member)
}

func (e *Evaluator) evalIndexer(n *hir.Indexer) interface{} {
	base, err := e.collOf(e.eval(n.Target))
	if err != nil {
		return err
	}
	idx, err := e.collOf(e.eval(n.Index))
	if err != nil {
		return err
	}
	if idx.Empty() {
		return types.Collection{}
	}
	i, ok := idx[0].(types.Integer)
	if !ok {
		return TypeError("Integer", idx[0].Type(), "indexer")
	}
	pos := int(i.Value())
	if pos < 0 || pos >= len(base) {
		return types.Collection{}
	}
	return types.Collection{base[pos]}
}

func (e *Evaluator) evalPolarity(n *hir.Polarity) interface{} {
	col, err := e.collOf(e.eval(n.Operand))
	if err != nil {
		return err
	}
	if col.Empty() {
		return col
	}
	if len(col) != 1 {
		return SingletonError(len(col))
	}
	if n.Sign == '-' {
		negated, err := Negate(col[0])
		if err != nil {
			return err
		}
		return types.Collection{negated}
	}
	return col
}

func (e *Evaluator) evalBinary(n *hir.Binary) interface{} {
	switch n.Op {
	case "and":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		return And(left, right)
	case "or", "xor":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		if n.Op == "or" {
			return Or(left, right)
		}
		return Xor(left, right)
	case "implies":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		return Implies(left, right)
	case "in":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		return In(left, right)
	case "contains":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		return Contains(left, right)
	case "=", "!=", "~", "!~":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		switch n.Op {
		case "=":
			return Equal(left, right)
		case "!=":
			return NotEqual(left, right)
		case "~":
			return Equivalent(left, right)
		default:
			return NotEquivalent(left, right)
		}
	case "<", "<=", ">", ">=":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		if left.Empty() || right.Empty() {
			return types.Collection{}
		}
		if len(left) != 1 || len(right) != 1 {
			return SingletonError(len(left) + len(right))
		}
		var result types.Collection
		var cerr error
		switch n.Op {
		case "<":
			result, cerr = LessThan(left[0], right[0])
		case "<=":
			result, cerr = LessOrEqual(left[0], right[0])
		case ">":
			result, cerr = GreaterThan(left[0], right[0])
		default:
			result, cerr = GreaterOrEqual(left[0], right[0])
		}
		if cerr != nil {
			return cerr
		}
		return result
	case "|":
		return e.evalUnion(&hir.Union{Left: n.Left, Right: n.Right})
	case "&":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		return Concatenate(left, right)
	case "+", "-":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		if left.Empty() || right.Empty() {
			return types.Collection{}
		}
		if len(left) != 1 || len(right) != 1 {
			return SingletonError(len(left) + len(right))
		}
		var result types.Value
		var aerr error
		if n.Op == "+" {
			result, aerr = Add(left[0], right[0])
		} else {
			result, aerr = Subtract(left[0], right[0])
		}
		if aerr != nil {
			return aerr
		}
		return types.Collection{result}
	case "*", "/", "div", "mod":
		left, err := e.collOf(e.eval(n.Left))
		if err != nil {
			return err
		}
		right, err := e.collOf(e.eval(n.Right))
		if err != nil {
			return err
		}
		if left.Empty() || right.Empty() {
			return types.Collection{}
		}
		if len(left) != 1 || len(right) != 1 {
			return SingletonError(len(left) + len(right))
		}
		var result types.Value
		var merr error
		switch n.Op {
		case "*":
			result, merr = Multiply(left[0], right[0])
		case "/":
			result, merr = Divide(left[0], right[0])
		case "div":
			result, merr = IntegerDivide(left[0], right[0])
		default:
			result, merr = Modulo(left[0], right[0])
		}
		if merr != nil {
			return merr
		}
		return types.Collection{result}
	default:
		return NewEvalError(ErrInvalidExpression, "unknown operator %q", n.Op)
	}
}

func (e *Evaluator) evalTypeOp(n *hir.TypeOp) interface{} {
	input, err := e.collOf(e.eval(n.Operand))
	if err != nil {
		return err
	}
	if input.Empty() {
		return types.Collection{}
	}
	switch n.Op {
	case "is":
		if len(input) != 1 {
			return SingletonError(len(input))
		}
		return types.Collection{types.NewBoolean(TypeMatches(input[0].Type(), n.TypeName))}
	case "as":
		if len(input) != 1 {
			return SingletonError(len(input))
		}
		if TypeMatches(input[0].Type(), n.TypeName) {
			return input
		}
		return types.Collection{}
	case "ofType":
		result := types.Collection{}
		for _, item := range input {
			if TypeMatches(item.Type(), n.TypeName) {
				result = append(result, item)
			}
		}
		return result
	default:
		return NewEvalError(ErrInvalidExpression, "unknown type operator %q", n.Op)
	}
}

// withThisIndex runs fn with $this/$index set to item/i, restoring the prior
// context afterward. Used by every per-element higher-order form.
func (e *Evaluator) withThisIndex(item types.Value, i int, fn func() interface{}) interface{} {
	oldThis, oldIndex := e.ctx.this, e.ctx.index
	e.ctx.this = types.Collection{item}
	e.ctx.index = i
	defer func() { e.ctx.this, e.ctx.index = oldThis, oldIndex }()
	return fn()
}

func (e *Evaluator) evalHigherOrder(n *hir.HigherOrder) interface{} {
	input, err := e.collOf(e.eval(n.Target))
	if err != nil {
		return err
	}
	switch n.Kind {
	case "where":
		return e.evalWhere(input, n.Pred)
	case "select":
		return e.evalSelect(input, n.Pred)
	case "repeat":
		return e.evalRepeat(input, n.Pred)
	case "exists":
		return e.evalExists(input, n.Pred)
	case "all":
		return e.evalAll(input, n.Pred)
	case "aggregate":
		return e.evalAggregate(input, n.Pred, n.Init)
	default:
		return NewEvalError(ErrInvalidExpression, "unknown higher-order function %q", n.Kind)
	}
}

func (e *Evaluator) evalWhere(input types.Collection, pred hir.Node) interface{} {
	if err := e.ctx.CheckCollectionSize(input); err != nil {
		return err
	}
	result := types.Collection{}
	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return err
			}
		}
		r := e.withThisIndex(item, i, func() interface{} { return e.eval(pred) })
		if err, ok := r.(error); ok {
			return err
		}
		if col, ok := r.(types.Collection); ok && !col.Empty() {
			if b, ok := col[0].(types.Boolean); ok && b.Bool() {
				result = append(result, item)
			}
		}
	}
	return result
}

func (e *Evaluator) evalExists(input types.Collection, pred hir.Node) interface{} {
	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return err
			}
		}
		r := e.withThisIndex(item, i, func() interface{} { return e.eval(pred) })
		if err, ok := r.(error); ok {
			return err
		}
		if col, ok := r.(types.Collection); ok && !col.Empty() {
			if b, ok := col[0].(types.Boolean); ok && b.Bool() {
				return types.Collection{types.NewBoolean(true)}
			}
		}
	}
	return types.Collection{types.NewBoolean(false)}
}

func (e *Evaluator) evalAll(input types.Collection, pred hir.Node) interface{} {
	if input.Empty() {
		return types.Collection{types.NewBoolean(true)}
	}
	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return err
			}
		}
		r := e.withThisIndex(item, i, func() interface{} { return e.eval(pred) })
		if err, ok := r.(error); ok {
			return err
		}
		if col, ok := r.(types.Collection); ok {
			if col.Empty() {
				return types.Collection{types.NewBoolean(false)}
			}
			if b, ok := col[0].(types.Boolean); ok && !b.Bool() {
				return types.Collection{types.NewBoolean(false)}
			}
		}
	}
	return types.Collection{types.NewBoolean(true)}
}

func (e *Evaluator) evalSelect(input types.Collection, proj hir.Node) interface{} {
	if err := e.ctx.CheckCollectionSize(input); err != nil {
		return err
	}
	result := types.Collection{}
	for i, item := range input {
		if i%100 == 0 {
			if err := e.ctx.CheckCancellation(); err != nil {
				return err
			}
		}
		r := e.withThisIndex(item, i, func() interface{} { return e.eval(proj) })
		if err, ok := r.(error); ok {
			return err
		}
		if col, ok := r.(types.Collection); ok {
			result = append(result, col...)
			if err := e.ctx.CheckCollectionSize(result); err != nil {
				return err
			}
		}
	}
	return result
}

// evalRepeat implements the FHIRPath repeat() fixpoint: starting from input,
// repeatedly applies proj and accumulates newly discovered items until no
// further items are found.
func (e *Evaluator) evalRepeat(input types.Collection, proj hir.Node) interface{} {
	seen := map[string]bool{}
	result := types.Collection{}
	frontier := input
	for len(frontier) > 0 {
		next := types.Collection{}
		for i, item := range frontier {
			r := e.withThisIndex(item, i, func() interface{} { return e.eval(proj) })
			if err, ok := r.(error); ok {
				return err
			}
			col, ok := r.(types.Collection)
			if !ok {
				continue
			}
			for _, v := range col {
				key := v.Type() + "|" + v.String()
				if seen[key] {
					continue
				}
				seen[key] = true
				result = append(result, v)
				next = append(next, v)
			}
		}
		if err := e.ctx.CheckCollectionSize(result); err != nil {
			return err
		}
		frontier = next
	}
	return result
}

func (e *Evaluator) evalAggregate(input types.Collection, pred, init hir.Node) interface{} {
	var total types.Value
	if init != nil {
		initCol, err := e.collOf(e.eval(init))
		if err != nil {
			return err
		}
		if !initCol.Empty() {
			total = initCol[0]
		}
	}
	oldTotal := e.ctx.total
	defer func() { e.ctx.total = oldTotal }()

	for i, item := range input {
		e.ctx.total = total
		r := e.withThisIndex(item, i, func() interface{} { return e.eval(pred) })
		if err, ok := r.(error); ok {
			return err
		}
		if col, ok := r.(types.Collection); ok && !col.Empty() {
			total = col[0]
		}
	}
	if total == nil {
		return types.Collection{}
	}
	return types.Collection{total}
}

func (e *Evaluator) evalIif(n *hir.Iif) interface{} {
	condResult := e.eval(n.Cond)
	if err, ok := condResult.(error); ok {
		return err
	}
	criterion := false
	if col, ok := condResult.(types.Collection); ok && !col.Empty() {
		if b, ok := col[0].(types.Boolean); ok {
			criterion = b.Bool()
		}
	}
	if criterion {
		r := e.eval(n.Then)
		if err, ok := r.(error); ok {
			return err
		}
		if col, ok := r.(types.Collection); ok {
			return col
		}
		return types.Collection{}
	}
	if n.Else != nil {
		r := e.eval(n.Else)
		if err, ok := r.(error); ok {
			return err
		}
		if col, ok := r.(types.Collection); ok {
			return col
		}
	}
	return types.Collection{}
}

func (e *Evaluator) evalFuncCall(n *hir.FuncCall) interface{} {
	fn, ok := e.funcs.Get(n.Name)
	if !ok {
		return FunctionNotFoundError(n.Name)
	}
	argCount := len(n.Args)
	if argCount < fn.MinArgs {
		return InvalidArgumentsError(n.Name, fn.MinArgs, argCount)
	}
	if fn.MaxArgs >= 0 && argCount > fn.MaxArgs {
		return InvalidArgumentsError(n.Name, fn.MaxArgs, argCount)
	}

	input, err := e.collOf(e.eval(n.Target))
	if err != nil {
		return err
	}
	oldThis := e.ctx.this
	e.ctx.this = input
	defer func() { e.ctx.this = oldThis }()

	args := make([]interface{}, argCount)
	for i, a := range n.Args {
		r := e.eval(a)
		if err, ok := r.(error); ok {
			return err
		}
		args[i] = r
	}
	result, err := fn.Fn(e.ctx, input, args)
	if err != nil {
		return err
	}
	return result
}
