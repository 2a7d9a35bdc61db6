package fhirpath

import (
	"fmt"

	"github.com/robertoaraneda/gofhir/pkg/fhirpath/analyzer"
	"github.com/robertoaraneda/gofhir/pkg/fhirpath/parser"
)

// compile parses a FHIRPath expression into a compiled Expression.
func compile(expr string) (*Expression, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty expression")
	}

	ast, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parser errors: %w", err)
	}

	node, err := analyzer.Analyze(ast)
	if err != nil {
		return nil, fmt.Errorf("analysis errors: %w", err)
	}

	return &Expression{
		source: expr,
		tree:   node,
	}, nil
}
