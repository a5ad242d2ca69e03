// Package scriptjson is a JSON front end for internal/ast.Program.
//
// internal/ast documents its tree as produced by "an external collaborator"
// — a lexer/parser for the tracing language's surface syntax that this
// module does not implement (see DESIGN.md: building and hand-verifying a
// full recursive-descent grammar for the language, without ever running the
// Go toolchain to catch mistakes, was judged out of proportion to the rest
// of this pass). scriptjson plays that collaborator's role with a
// structural JSON encoding instead of bpftrace's own text grammar, so
// internal/pipeline.CompileScript has a real, exercisable way to obtain a
// Program from outside a test file: attach-point strings, predicates,
// statements, and expressions, all as data.
//
// Attach points are still given as raw strings ("kprobe:do_sys_open") and
// resolved by the existing internal/attach machinery — this package only
// assembles the tree around them.
package scriptjson

import (
	"encoding/json"
	"fmt"

	"github.com/bpftrace-go/bpftrace/internal/ast"
)

// Document is the top-level decoded shape: a program's probes plus its
// positional $N parameters.
type Document struct {
	Params []string   `json:"params"`
	Probes []probeDoc `json:"probes"`
}

type probeDoc struct {
	Attach    []string          `json:"attach"`
	Predicate *json.RawMessage  `json:"predicate"`
	Body      []json.RawMessage `json:"body"`
}

type exprDoc struct {
	Kind string `json:"kind"`

	Value  json.RawMessage `json:"value"`
	Signed bool            `json:"signed"`
	Bits   int             `json:"bits"`

	Name string `json:"name"`

	Key *json.RawMessage `json:"key"`

	Receiver *json.RawMessage `json:"receiver"`
	Field    string           `json:"field"`

	Op    string           `json:"op"`
	Left  *json.RawMessage `json:"left"`
	Right *json.RawMessage `json:"right"`

	Operand *json.RawMessage `json:"operand"`

	Args []json.RawMessage `json:"args"`

	N int `json:"n"`
}

type stmtDoc struct {
	Kind string `json:"kind"`

	X *json.RawMessage `json:"x"`

	Target *json.RawMessage `json:"target"`
	Value  *json.RawMessage `json:"value"`

	Cond *json.RawMessage  `json:"cond"`
	Then []json.RawMessage `json:"then"`
	Else []json.RawMessage `json:"else"`

	Count int               `json:"count"`
	Body  []json.RawMessage `json:"body"`

	Var   string           `json:"var"`
	Start *json.RawMessage `json:"start"`
	End   *json.RawMessage `json:"end"`

	KeyVar string `json:"keyVar"`
	ValVar string `json:"valVar"`
	Map    string `json:"map"`

	Key *json.RawMessage `json:"key"`
}

// Decode parses raw JSON into an *ast.Program ready for
// internal/pipeline.CompileScript. pos is attributed to every node decoded
// (scriptjson carries no line/column information of its own).
func Decode(raw []byte, pos ast.Pos) (*ast.Program, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("scriptjson: %w", err)
	}

	prog := &ast.Program{Params: doc.Params}
	for i, pd := range doc.Probes {
		probe := ast.NewProbe(pos)
		for _, raw := range pd.Attach {
			probe.AttachPoints = append(probe.AttachPoints, ast.NewAttachPoint(raw, pos))
		}
		if len(probe.AttachPoints) == 0 {
			return nil, fmt.Errorf("scriptjson: probe %d has no attach points", i)
		}
		if pd.Predicate != nil {
			cond, err := decodeExpr(*pd.Predicate, pos)
			if err != nil {
				return nil, fmt.Errorf("scriptjson: probe %d predicate: %w", i, err)
			}
			probe.Predicate = cond
		}
		body, err := decodeStmts(pd.Body, pos)
		if err != nil {
			return nil, fmt.Errorf("scriptjson: probe %d body: %w", i, err)
		}
		probe.Body = body
		prog.Probes = append(prog.Probes, probe)
	}
	return prog, nil
}

func decodeExprPtr(raw *json.RawMessage, pos ast.Pos) (ast.Expr, error) {
	if raw == nil {
		return nil, nil
	}
	return decodeExpr(*raw, pos)
}

func decodeExpr(raw json.RawMessage, pos ast.Pos) (ast.Expr, error) {
	var d exprDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("expr: %w", err)
	}

	switch d.Kind {
	case "int":
		var v int64
		if len(d.Value) > 0 {
			if err := json.Unmarshal(d.Value, &v); err != nil {
				return nil, fmt.Errorf("int literal: %w", err)
			}
		}
		bits := d.Bits
		if bits == 0 {
			bits = 64
		}
		return &ast.IntLit{Value: v, Signed: d.Signed, Bits: bits}, nil
	case "str":
		var v string
		if len(d.Value) > 0 {
			if err := json.Unmarshal(d.Value, &v); err != nil {
				return nil, fmt.Errorf("string literal: %w", err)
			}
		}
		return &ast.StrLit{Value: v}, nil
	case "var":
		return &ast.Var{Name: d.Name}, nil
	case "map":
		key, err := decodeExprPtr(d.Key, pos)
		if err != nil {
			return nil, fmt.Errorf("map key: %w", err)
		}
		return &ast.MapRef{Name: d.Name, Key: key}, nil
	case "field":
		recv, err := decodeExprPtr(d.Receiver, pos)
		if err != nil {
			return nil, fmt.Errorf("field receiver: %w", err)
		}
		return &ast.FieldAccess{Receiver: recv, Field: d.Field}, nil
	case "binary":
		left, err := decodeExprPtr(d.Left, pos)
		if err != nil {
			return nil, fmt.Errorf("binary left: %w", err)
		}
		right, err := decodeExprPtr(d.Right, pos)
		if err != nil {
			return nil, fmt.Errorf("binary right: %w", err)
		}
		return &ast.Binary{Op: ast.BinOp(d.Op), Left: left, Right: right}, nil
	case "unary":
		operand, err := decodeExprPtr(d.Operand, pos)
		if err != nil {
			return nil, fmt.Errorf("unary operand: %w", err)
		}
		return &ast.Unary{Op: ast.UnaryOp(d.Op), Operand: operand}, nil
	case "call":
		args := make([]ast.Expr, 0, len(d.Args))
		for _, a := range d.Args {
			e, err := decodeExpr(a, pos)
			if err != nil {
				return nil, fmt.Errorf("call %s arg: %w", d.Name, err)
			}
			args = append(args, e)
		}
		return &ast.Call{Name: d.Name, Args: args}, nil
	case "param":
		return &ast.PositionalParam{N: d.N}, nil
	case "builtin":
		return &ast.BuiltinVar{Name: d.Name}, nil
	default:
		return nil, fmt.Errorf("unknown expr kind %q", d.Kind)
	}
}

func decodeStmts(raws []json.RawMessage, pos ast.Pos) ([]ast.Stmt, error) {
	out := make([]ast.Stmt, 0, len(raws))
	for _, raw := range raws {
		s, err := decodeStmt(raw, pos)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeStmt(raw json.RawMessage, pos ast.Pos) (ast.Stmt, error) {
	var d stmtDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("stmt: %w", err)
	}

	switch d.Kind {
	case "expr":
		x, err := decodeExprPtr(d.X, pos)
		if err != nil {
			return nil, fmt.Errorf("expr stmt: %w", err)
		}
		return &ast.ExprStmt{X: x}, nil
	case "assign":
		target, err := decodeExprPtr(d.Target, pos)
		if err != nil {
			return nil, fmt.Errorf("assign target: %w", err)
		}
		value, err := decodeExprPtr(d.Value, pos)
		if err != nil {
			return nil, fmt.Errorf("assign value: %w", err)
		}
		return &ast.Assign{Target: target, Value: value}, nil
	case "if":
		cond, err := decodeExprPtr(d.Cond, pos)
		if err != nil {
			return nil, fmt.Errorf("if cond: %w", err)
		}
		thenBody, err := decodeStmts(d.Then, pos)
		if err != nil {
			return nil, fmt.Errorf("if then: %w", err)
		}
		elseBody, err := decodeStmts(d.Else, pos)
		if err != nil {
			return nil, fmt.Errorf("if else: %w", err)
		}
		return &ast.If{Cond: cond, Then: thenBody, Else: elseBody}, nil
	case "while":
		cond, err := decodeExprPtr(d.Cond, pos)
		if err != nil {
			return nil, fmt.Errorf("while cond: %w", err)
		}
		body, err := decodeStmts(d.Body, pos)
		if err != nil {
			return nil, fmt.Errorf("while body: %w", err)
		}
		return &ast.While{Cond: cond, Body: body}, nil
	case "unroll":
		body, err := decodeStmts(d.Body, pos)
		if err != nil {
			return nil, fmt.Errorf("unroll body: %w", err)
		}
		return &ast.Unroll{Count: d.Count, Body: body}, nil
	case "forRange":
		start, err := decodeExprPtr(d.Start, pos)
		if err != nil {
			return nil, fmt.Errorf("for-range start: %w", err)
		}
		end, err := decodeExprPtr(d.End, pos)
		if err != nil {
			return nil, fmt.Errorf("for-range end: %w", err)
		}
		body, err := decodeStmts(d.Body, pos)
		if err != nil {
			return nil, fmt.Errorf("for-range body: %w", err)
		}
		return &ast.ForRange{Var: d.Var, Start: start, End: end, Body: body}, nil
	case "forMap":
		body, err := decodeStmts(d.Body, pos)
		if err != nil {
			return nil, fmt.Errorf("for-map body: %w", err)
		}
		return &ast.ForMap{KeyVar: d.KeyVar, ValVar: d.ValVar, Map: d.Map, Body: body}, nil
	case "delete":
		key, err := decodeExprPtr(d.Key, pos)
		if err != nil {
			return nil, fmt.Errorf("delete key: %w", err)
		}
		return &ast.Delete{Map: d.Map, Key: key}, nil
	case "break":
		return &ast.Break{}, nil
	case "continue":
		return &ast.Continue{}, nil
	case "return":
		value, err := decodeExprPtr(d.Value, pos)
		if err != nil {
			return nil, fmt.Errorf("return value: %w", err)
		}
		return &ast.Return{Value: value}, nil
	default:
		return nil, fmt.Errorf("unknown stmt kind %q", d.Kind)
	}
}
