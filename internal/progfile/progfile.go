// Package progfile compiles CUE program files into the in-memory IR. It is
// a front-end for fixtures and the CLI; the machine itself only ever
// consumes an ir.Program and never sees this format.
//
// A program file is a single CUE struct:
//
//	program: {
//		start: "main"
//		functions: {
//			main: {
//				ret: "r"
//				locals: r: {type: {int: {bytes: 4, signed: true}}}
//				start: "entry"
//				blocks: entry: {
//					term: {intrinsic: {op: "exit", ret: {local: "r"}}}
//				}
//			}
//		}
//	}
//
// Uses the CUE SDK's Go API directly, not a CLI subprocess.
package progfile

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/minimach/minimach/internal/ir"
)

// CompileFile reads and compiles a CUE program file.
func CompileFile(path string) (*ir.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program file: %w", err)
	}
	return CompileBytes(path, src)
}

// CompileBytes compiles CUE source into a program. name is used in
// positions only.
func CompileBytes(name string, src []byte) (*ir.Program, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileValue(v.LookupPath(cue.ParsePath("program")))
}

// CompileValue parses a CUE value holding the program struct.
func CompileValue(v cue.Value) (*ir.Program, error) {
	if !v.Exists() {
		return nil, &CompileError{Field: "program", Message: "program struct is required"}
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	prog := &ir.Program{
		Functions: map[ir.FnName]ir.Function{},
		Globals:   map[ir.GlobalName]ir.Global{},
		Target:    ir.DefaultTarget,
	}

	start, err := reqString(v, "start")
	if err != nil {
		return nil, err
	}
	prog.Start = ir.FnName(start)

	if tv := v.LookupPath(cue.ParsePath("target")); tv.Exists() {
		prog.Target, err = parseTarget(tv)
		if err != nil {
			return nil, err
		}
	}

	if gv := v.LookupPath(cue.ParsePath("globals")); gv.Exists() {
		iter, err := gv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			g, err := parseGlobal(iter.Value())
			if err != nil {
				return nil, err
			}
			prog.Globals[ir.GlobalName(iter.Selector().Unquoted())] = g
		}
	}

	fns := v.LookupPath(cue.ParsePath("functions"))
	if !fns.Exists() {
		return nil, &CompileError{
			Field:   "functions",
			Message: "at least one function is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := fns.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		name := ir.FnName(iter.Selector().Unquoted())
		fn, err := parseFunction(name, iter.Value())
		if err != nil {
			return nil, err
		}
		prog.Functions[name] = fn
	}

	return prog, nil
}

func parseTarget(v cue.Value) (ir.Target, error) {
	tg := ir.DefaultTarget
	if pb := v.LookupPath(cue.ParsePath("ptr_bytes")); pb.Exists() {
		n, err := pb.Int64()
		if err != nil {
			return tg, formatCUEError(err)
		}
		tg.PtrBytes = ir.Size(n)
		a, err := ir.NewAlign(uint64(n))
		if err != nil {
			return tg, &CompileError{Field: "target.ptr_bytes", Message: err.Error(), Pos: pb.Pos()}
		}
		tg.PtrAlign = a
	}
	if ev := v.LookupPath(cue.ParsePath("endian")); ev.Exists() {
		s, err := ev.String()
		if err != nil {
			return tg, formatCUEError(err)
		}
		switch s {
		case "little":
			tg.Endian = ir.LittleEndian
		case "big":
			tg.Endian = ir.BigEndian
		default:
			return tg, &CompileError{
				Field:   "target.endian",
				Message: fmt.Sprintf("unknown endianness %q", s),
				Pos:     ev.Pos(),
			}
		}
	}
	return tg, nil
}

func parseGlobal(v cue.Value) (ir.Global, error) {
	var g ir.Global
	size, err := reqInt64(v, "size")
	if err != nil {
		return g, err
	}
	g.Size = ir.Size(size)
	g.Align, err = parseAlign(v, "align", ir.Align1)
	if err != nil {
		return g, err
	}
	if iv := v.LookupPath(cue.ParsePath("init")); iv.Exists() {
		iter, err := iv.List()
		if err != nil {
			return g, formatCUEError(err)
		}
		for iter.Next() {
			b, err := iter.Value().Int64()
			if err != nil {
				return g, formatCUEError(err)
			}
			if b < 0 || b > 255 {
				return g, &CompileError{
					Field:   "init",
					Message: fmt.Sprintf("byte %d out of range", b),
					Pos:     iter.Value().Pos(),
				}
			}
			g.Init = append(g.Init, byte(b))
		}
	}
	return g, nil
}

func parseFunction(name ir.FnName, v cue.Value) (ir.Function, error) {
	fn := ir.Function{
		Name:   name,
		Locals: map[ir.LocalName]ir.PlaceType{},
		Blocks: map[ir.BBName]ir.BasicBlock{},
	}

	if av := v.LookupPath(cue.ParsePath("args")); av.Exists() {
		iter, err := av.List()
		if err != nil {
			return fn, formatCUEError(err)
		}
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return fn, formatCUEError(err)
			}
			fn.Args = append(fn.Args, ir.LocalName(s))
		}
	}

	ret, err := reqString(v, "ret")
	if err != nil {
		return fn, err
	}
	fn.Ret = ir.LocalName(ret)

	start, err := reqString(v, "start")
	if err != nil {
		return fn, err
	}
	fn.Start = ir.BBName(start)

	if cv := v.LookupPath(cue.ParsePath("conv")); cv.Exists() {
		s, err := cv.String()
		if err != nil {
			return fn, formatCUEError(err)
		}
		switch s {
		case "default":
			fn.Conv = ir.ConvDefault
		case "c":
			fn.Conv = ir.ConvC
		default:
			return fn, &CompileError{
				Field:   "conv",
				Message: fmt.Sprintf("unknown calling convention %q", s),
				Pos:     cv.Pos(),
			}
		}
	}

	lv := v.LookupPath(cue.ParsePath("locals"))
	if lv.Exists() {
		iter, err := lv.Fields()
		if err != nil {
			return fn, formatCUEError(err)
		}
		for iter.Next() {
			pty, err := parsePlaceType(iter.Value())
			if err != nil {
				return fn, err
			}
			fn.Locals[ir.LocalName(iter.Selector().Unquoted())] = pty
		}
	}

	bv := v.LookupPath(cue.ParsePath("blocks"))
	if !bv.Exists() {
		return fn, &CompileError{
			Field:   "blocks",
			Message: "at least one basic block is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := bv.Fields()
	if err != nil {
		return fn, formatCUEError(err)
	}
	for iter.Next() {
		bb, err := parseBlock(iter.Value())
		if err != nil {
			return fn, err
		}
		fn.Blocks[ir.BBName(iter.Selector().Unquoted())] = bb
	}

	return fn, nil
}

func parseBlock(v cue.Value) (ir.BasicBlock, error) {
	var bb ir.BasicBlock
	if sv := v.LookupPath(cue.ParsePath("stmts")); sv.Exists() {
		iter, err := sv.List()
		if err != nil {
			return bb, formatCUEError(err)
		}
		for iter.Next() {
			st, err := parseStatement(iter.Value())
			if err != nil {
				return bb, err
			}
			bb.Statements = append(bb.Statements, st)
		}
	}
	tv := v.LookupPath(cue.ParsePath("term"))
	if !tv.Exists() {
		return bb, &CompileError{
			Field:   "term",
			Message: "block terminator is required",
			Pos:     v.Pos(),
		}
	}
	var err error
	bb.Terminator, err = parseTerminator(tv)
	return bb, err
}

// reqString returns the required string field at path.
func reqString(v cue.Value, path string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// reqInt64 returns the required integer field at path.
func reqInt64(v cue.Value, path string) (int64, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return 0, &CompileError{
			Field:   path,
			Message: path + " is required",
			Pos:     v.Pos(),
		}
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

// parseAlign reads an optional alignment field, validating power-of-two.
func parseAlign(v cue.Value, path string, def ir.Align) (ir.Align, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return def, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	a, err := ir.NewAlign(uint64(n))
	if err != nil {
		return 0, &CompileError{Field: path, Message: err.Error(), Pos: fv.Pos()}
	}
	return a, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
