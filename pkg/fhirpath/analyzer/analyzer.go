// Package analyzer lowers a FHIRPath AST (pkg/fhirpath/parser) into HIR
// (pkg/fhirpath/hir): literal desugaring, identifier lifting for is/as/ofType,
// and dedicated higher-order nodes for where/select/repeat/aggregate/exists/all.
package analyzer

import (
	"fmt"

	"github.com/robertoaraneda/gofhir/pkg/fhirpath/hir"
	"github.com/robertoaraneda/gofhir/pkg/fhirpath/parser"
)

// Error reports a lowering failure.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "fhirpath: analysis error: " + e.Msg }

// higherOrderFuncs names functions lowered to hir.HigherOrder when called
// with a predicate/projection argument.
var higherOrderFuncs = map[string]bool{
	"where": true, "select": true, "repeat": true,
	"exists": true, "all": true, "aggregate": true,
}

var typeFuncs = map[string]bool{"is": true, "as": true, "ofType": true}

// Analyze lowers an AST into HIR.
func Analyze(n parser.Node) (hir.Node, error) {
	return lower(n, &hir.ThisRef{})
}

// lower converts a node. implicitTarget is the $this substitute used when a
// bare (un-dotted) function invocation is encountered at term position.
func lower(n parser.Node, implicitTarget hir.Node) (hir.Node, error) {
	switch v := n.(type) {
	case *parser.NullLiteral:
		return &hir.Null{}, nil
	case *parser.BoolLiteral:
		return &hir.Bool{Value: v.Value}, nil
	case *parser.StringLiteral:
		return &hir.Str{Value: v.Value}, nil
	case *parser.NumberLiteral:
		return &hir.Num{Text: v.Text, IsLong: v.IsLong}, nil
	case *parser.DateLiteral:
		return &hir.DateLit{Text: v.Text}, nil
	case *parser.DateTimeLiteral:
		return &hir.DateTimeLit{Text: v.Text}, nil
	case *parser.TimeLiteral:
		return &hir.TimeLit{Text: v.Text}, nil
	case *parser.QuantityLiteral:
		return &hir.QuantityLit{Number: hir.Num{Text: v.Number.Text, IsLong: v.Number.IsLong}, Unit: v.Unit}, nil
	case *parser.CollectionLiteral:
		return lowerCollectionLiteral(v, implicitTarget)
	case *parser.ExternalConstant:
		return &hir.ExternalConst{Name: v.Name}, nil
	case *parser.ThisInvocation:
		return &hir.ThisRef{}, nil
	case *parser.IndexInvocation:
		return &hir.IndexRef{}, nil
	case *parser.TotalInvocation:
		return &hir.TotalRef{}, nil
	case *parser.MemberInvocation:
		return &hir.Member{Name: v.Name}, nil
	case *parser.FunctionInvocation:
		return lowerFunctionCall(implicitTarget, v.Name, v.Args, implicitTarget)
	case *parser.Invocation:
		target, err := lower(v.Target, implicitTarget)
		if err != nil {
			return nil, err
		}
		if fn, ok := v.Member.(*parser.FunctionInvocation); ok {
			return lowerFunctionCall(target, fn.Name, fn.Args, implicitTarget)
		}
		member, err := lower(v.Member, implicitTarget)
		if err != nil {
			return nil, err
		}
		return &hir.Invocation{Target: target, Member: member}, nil
	case *parser.Indexer:
		target, err := lower(v.Target, implicitTarget)
		if err != nil {
			return nil, err
		}
		idx, err := lower(v.Index, implicitTarget)
		if err != nil {
			return nil, err
		}
		return &hir.Indexer{Target: target, Index: idx}, nil
	case *parser.Polarity:
		operand, err := lower(v.Operand, implicitTarget)
		if err != nil {
			return nil, err
		}
		return &hir.Polarity{Sign: v.Sign, Operand: operand}, nil
	case *parser.Binary:
		left, err := lower(v.Left, implicitTarget)
		if err != nil {
			return nil, err
		}
		right, err := lower(v.Right, implicitTarget)
		if err != nil {
			return nil, err
		}
		if v.Op == "|" {
			return &hir.Union{Left: left, Right: right}, nil
		}
		return &hir.Binary{Op: v.Op, Left: left, Right: right}, nil
	case *parser.TypeExpr:
		operand, err := lower(v.Operand, implicitTarget)
		if err != nil {
			return nil, err
		}
		return &hir.TypeOp{Op: v.Op, Operand: operand, TypeName: v.Type}, nil
	default:
		return nil, &Error{fmt.Sprintf("unsupported AST node %T", n)}
	}
}

func lowerCollectionLiteral(v *parser.CollectionLiteral, implicitTarget hir.Node) (hir.Node, error) {
	if len(v.Elements) == 0 {
		return &hir.Null{}, nil
	}
	acc, err := lower(v.Elements[0], implicitTarget)
	if err != nil {
		return nil, err
	}
	for _, e := range v.Elements[1:] {
		rhs, err := lower(e, implicitTarget)
		if err != nil {
			return nil, err
		}
		acc = &hir.Union{Left: acc, Right: rhs}
	}
	return acc, nil
}

func lowerFunctionCall(target hir.Node, name string, args []parser.Node, implicitTarget hir.Node) (hir.Node, error) {
	switch {
	case typeFuncs[name] && len(args) > 0:
		typeName, err := identifierChainToTypeName(args[0])
		if err != nil {
			return nil, err
		}
		return &hir.TypeOp{Op: name, Operand: target, TypeName: typeName}, nil
	case name == "iif" && len(args) >= 2:
		cond, err := lower(args[0], implicitTarget)
		if err != nil {
			return nil, err
		}
		then, err := lower(args[1], implicitTarget)
		if err != nil {
			return nil, err
		}
		var els hir.Node
		if len(args) > 2 {
			els, err = lower(args[2], implicitTarget)
			if err != nil {
				return nil, err
			}
		}
		return &hir.Iif{Target: target, Cond: cond, Then: then, Else: els}, nil
	case name == "aggregate" && len(args) > 0:
		pred, err := lower(args[0], implicitTarget)
		if err != nil {
			return nil, err
		}
		var init hir.Node
		if len(args) > 1 {
			init, err = lower(args[1], implicitTarget)
			if err != nil {
				return nil, err
			}
		}
		return &hir.HigherOrder{Kind: name, Target: target, Pred: pred, Init: init}, nil
	case higherOrderFuncs[name] && len(args) > 0:
		pred, err := lower(args[0], implicitTarget)
		if err != nil {
			return nil, err
		}
		return &hir.HigherOrder{Kind: name, Target: target, Pred: pred}, nil
	default:
		loweredArgs := make([]hir.Node, len(args))
		for i, a := range args {
			la, err := lower(a, implicitTarget)
			if err != nil {
				return nil, err
			}
			loweredArgs[i] = la
		}
		return &hir.FuncCall{Target: target, Name: name, Args: loweredArgs}, nil
	}
}

// identifierChainToTypeName lifts an is/as/ofType argument written as a bare
// identifier or dotted identifier chain (Patient, FHIR.Patient, System.Boolean)
// into its string type name. A quoted string argument is accepted as-is.
func identifierChainToTypeName(n parser.Node) (string, error) {
	switch v := n.(type) {
	case *parser.MemberInvocation:
		return v.Name, nil
	case *parser.StringLiteral:
		return v.Value, nil
	case *parser.Invocation:
		left, err := identifierChainToTypeName(v.Target)
		if err != nil {
			return "", err
		}
		member, ok := v.Member.(*parser.MemberInvocation)
		if !ok {
			return "", &Error{"type specifier must be a dotted identifier chain"}
		}
		return left + "." + member.Name, nil
	default:
		return "", &Error{fmt.Sprintf("cannot interpret %T as a type specifier", n)}
	}
}
