package machine

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/mem"
	"github.com/minimach/minimach/internal/ub"
)

var (
	tU8  = ir.IntType{Sig: ir.Unsigned, Bytes: 1}
	tU32 = ir.IntType{Sig: ir.Unsigned, Bytes: 4}
	tI32 = ir.IntType{Sig: ir.Signed, Bytes: 4}
	tU64 = ir.IntType{Sig: ir.Unsigned, Bytes: 8}
)

func tUnit() ir.Type { return ir.TupleType{TupleSize: 0} }

func pt(ty ir.Type, align uint64) ir.PlaceType {
	return ir.PlaceType{Ty: ty, Align: ir.MustAlign(align)}
}

func lp(name string) ir.PlaceLocal { return ir.PlaceLocal{Name: ir.LocalName(name)} }

func ci(n int64, ty ir.IntType) ir.ConstInt {
	return ir.ConstInt{V: ir.NewInt(n), Ty: ty}
}

func live(name string) ir.Statement { return ir.StorageLive{Local: ir.LocalName(name)} }
func dead(name string) ir.Statement { return ir.StorageDead{Local: ir.LocalName(name)} }

func set(name string, src ir.ValueExpr) ir.Statement {
	return ir.Assign{Dest: lp(name), Src: src}
}

func derefU8(p ir.ValueExpr) ir.PlaceDeref {
	return ir.PlaceDeref{Ptr: p, Pty: pt(tU8, 1)}
}

// exitTerm halts the machine with the given code, using the function's own
// return local as the (ignored) intrinsic return place.
func exitTerm(code int64) ir.Terminator {
	return ir.Intrinsic{
		Op:   ir.IntrinsicExit,
		Args: []ir.ValueExpr{ci(code, tU64)},
		Ret:  lp("ret"),
	}
}

func printTerm(next ir.BBName, args ...ir.ValueExpr) ir.Terminator {
	return ir.Intrinsic{Op: ir.IntrinsicPrintStdout, Args: args, Ret: lp("u"), Next: &next}
}

// mainFn builds the start function. The return local "ret" is added for the
// caller; "u" is a common unit scratch local for intrinsic return places and
// must be brought live by the test when used.
func mainFn(locals map[ir.LocalName]ir.PlaceType, blocks map[ir.BBName]ir.BasicBlock) ir.Function {
	if locals == nil {
		locals = map[ir.LocalName]ir.PlaceType{}
	}
	locals["ret"] = pt(tUnit(), 1)
	locals["u"] = pt(tUnit(), 1)
	return ir.Function{
		Name:   "main",
		Ret:    "ret",
		Locals: locals,
		Blocks: blocks,
		Start:  "entry",
	}
}

func prog(fns ...ir.Function) ir.Program {
	m := map[ir.FnName]ir.Function{}
	for _, f := range fns {
		m[f.Name] = f
	}
	return ir.Program{Functions: m, Start: "main", Target: ir.DefaultTarget}
}

func runProg(t *testing.T, p ir.Program, opts ...Option) Outcome {
	t.Helper()
	m, err := New(p, mem.NewFlat(p.Target), opts...)
	require.NoError(t, err)
	return m.Run(context.Background())
}

func requireStop(t *testing.T, o Outcome, code int) {
	t.Helper()
	require.Equal(t, OutcomeStop, o.Kind, "outcome: %s", o)
	assert.Equal(t, code, o.ExitCode)
}

func requireUBCode(t *testing.T, o Outcome, code ub.Code) {
	t.Helper()
	require.Equal(t, OutcomeUB, o.Kind, "outcome: %s", o)
	assert.Equal(t, code, o.UB.Code)
}

func TestRun_ExitCode(t *testing.T) {
	p := prog(mainFn(nil, map[ir.BBName]ir.BasicBlock{
		"entry": {Terminator: exitTerm(42)},
	}))
	requireStop(t, runProg(t, p), 42)
}

func TestRun_MainReturnWithoutExit(t *testing.T) {
	p := prog(mainFn(nil, map[ir.BBName]ir.BasicBlock{
		"entry": {Terminator: ir.Return{}},
	}))
	requireUBCode(t, runProg(t, p), ub.CodeBadReturn)
}

func TestRun_Unreachable(t *testing.T) {
	p := prog(mainFn(nil, map[ir.BBName]ir.BasicBlock{
		"entry": {Terminator: ir.Unreachable{}},
	}))
	requireUBCode(t, runProg(t, p), ub.CodeUnreachable)
}

func TestRun_DivByZero(t *testing.T) {
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"x": pt(tI32, 4)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{
					live("x"),
					set("x", ir.BinOp{Op: ir.BinDiv, L: ci(1, tI32), R: ci(0, tI32), OpTy: tI32}),
				},
				Terminator: exitTerm(0),
			},
		}))
	requireUBCode(t, runProg(t, p), ub.CodeDivByZero)
}

func TestRun_SignedDivOverflow(t *testing.T) {
	// i32 MIN / -1 is the one div result that escapes the operand range.
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"x": pt(tI32, 4)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{
					live("x"),
					set("x", ir.BinOp{Op: ir.BinDiv, L: ci(-2147483648, tI32), R: ci(-1, tI32), OpTy: tI32}),
				},
				Terminator: exitTerm(0),
			},
		}))
	requireUBCode(t, runProg(t, p), ub.CodeArithOverflow)
}

func TestRun_WrappingArithmetic(t *testing.T) {
	// Add wraps silently at the operation type; only div/rem can overflow.
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"x": pt(tU8, 1)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{
					live("x"), live("u"),
					set("x", ir.BinOp{Op: ir.BinAdd, L: ci(200, tU8), R: ci(100, tU8), OpTy: tU8}),
				},
				Terminator: printTerm("end", ir.Load{Src: lp("x")}),
			},
			"end": {Terminator: exitTerm(0)},
		}))
	var out bytes.Buffer
	requireStop(t, runProg(t, p, WithStdout(&out)), 0)
	assert.Equal(t, "44\n", out.String())
}

func TestRun_LoadUninitialized(t *testing.T) {
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"x": pt(tU8, 1), "y": pt(tU8, 1)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{
					live("x"), live("y"),
					set("y", ir.Load{Src: lp("x")}),
				},
				Terminator: exitTerm(0),
			},
		}))
	requireUBCode(t, runProg(t, p), ub.CodeInvalidValue)
}

func TestRun_StorageLifecycle(t *testing.T) {
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"x": pt(tU8, 1)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{
					live("x"),
					set("x", ci(1, tU8)),
					dead("x"),
					live("x"), // re-living is legal
					set("x", ci(2, tU8)),
					dead("x"),
				},
				Terminator: exitTerm(0),
			},
		}))
	requireStop(t, runProg(t, p), 0)
}

func TestRun_DoubleStorageLive(t *testing.T) {
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"x": pt(tU8, 1)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{live("x"), live("x")},
				Terminator: exitTerm(0),
			},
		}))
	requireUBCode(t, runProg(t, p), ub.CodeBadStorage)
}

func TestRun_DeadLocalAccess(t *testing.T) {
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"x": pt(tU8, 1)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{set("x", ci(1, tU8))},
				Terminator: exitTerm(0),
			},
		}))
	requireUBCode(t, runProg(t, p), ub.CodeDeadLocal)
}

func TestRun_DanglingPointerLoad(t *testing.T) {
	// Taking a pointer to a local, killing the local, then loading through
	// the pointer is a use after free.
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{
		"x": pt(tU8, 1), "p": pt(ir.PtrType{Kind: ir.PtrRaw}, 8), "y": pt(tU8, 1),
	}, map[ir.BBName]ir.BasicBlock{
		"entry": {
			Statements: []ir.Statement{
				live("x"), live("p"), live("y"),
				set("x", ci(7, tU8)),
				set("p", ir.AddrOf{Place: lp("x"), Kind: ir.PtrRaw}),
				dead("x"),
				set("y", ir.Load{Src: derefU8(ir.Load{Src: lp("p")})}),
			},
			Terminator: exitTerm(0),
		},
	}))
	requireUBCode(t, runProg(t, p), ub.CodeUseAfterFree)
}

func TestRun_MentioningDanglingPlaceIsLegal(t *testing.T) {
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{
		"x": pt(tU8, 1), "p": pt(ir.PtrType{Kind: ir.PtrRaw}, 8),
	}, map[ir.BBName]ir.BasicBlock{
		"entry": {
			Statements: []ir.Statement{
				live("x"), live("p"),
				set("x", ci(7, tU8)),
				set("p", ir.AddrOf{Place: lp("x"), Kind: ir.PtrRaw}),
				dead("x"),
				ir.PlaceMention{Place: derefU8(ir.Load{Src: lp("p")})},
			},
			Terminator: exitTerm(0),
		},
	}))
	requireStop(t, runProg(t, p), 0)
}

func TestRun_IndexOutOfRange(t *testing.T) {
	arr := ir.ArrayType{Elem: tU8, Count: 3}
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"a": pt(arr, 1), "y": pt(tU8, 1)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{
					live("a"), live("y"),
					set("y", ir.Load{Src: ir.PlaceIndex{Base: lp("a"), Index: ci(5, tU64)}}),
				},
				Terminator: exitTerm(0),
			},
		}))
	requireUBCode(t, runProg(t, p), ub.CodeOutOfRange)
}

func TestRun_TupleFieldAccess(t *testing.T) {
	tup := ir.TupleType{
		Fields:    []ir.Field{{Offset: 0, Ty: tU8}, {Offset: 4, Ty: tU32}},
		TupleSize: 8,
	}
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"t": pt(tup, 4)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{
					live("t"), live("u"),
					set("t", ir.TupleExpr{Fields: []ir.ValueExpr{ci(3, tU8), ci(70000, tU32)}, Ty: tup}),
					ir.Assign{Dest: ir.PlaceField{Base: lp("t"), Idx: 1}, Src: ci(9, tU32)},
				},
				Terminator: printTerm("end", ir.Load{Src: ir.PlaceField{Base: lp("t"), Idx: 1}}),
			},
			"end": {Terminator: exitTerm(0)},
		}))
	var out bytes.Buffer
	requireStop(t, runProg(t, p, WithStdout(&out)), 0)
	assert.Equal(t, "9\n", out.String())
}

func TestRun_InboundsPtrOffsetPastAllocation(t *testing.T) {
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{
		"x": pt(tU8, 1), "p": pt(ir.PtrType{Kind: ir.PtrRaw}, 8),
	}, map[ir.BBName]ir.BasicBlock{
		"entry": {
			Statements: []ir.Statement{
				live("x"), live("p"),
				set("x", ci(0, tU8)),
				set("p", ir.BinOp{
					Op:       ir.BinPtrOffset,
					L:        ir.AddrOf{Place: lp("x"), Kind: ir.PtrRaw},
					R:        ci(4, tU64),
					OpTy:     tU64,
					Inbounds: true,
				}),
			},
			Terminator: exitTerm(0),
		},
	}))
	requireUBCode(t, runProg(t, p), ub.CodeOutOfBounds)
}

func TestRun_InboundsPtrOffsetHugeDelta(t *testing.T) {
	// A delta of 2^64 must not be narrowed to a zero-byte bounds check.
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{
		"x": pt(tU8, 1), "p": pt(ir.PtrType{Kind: ir.PtrRaw}, 8),
	}, map[ir.BBName]ir.BasicBlock{
		"entry": {
			Statements: []ir.Statement{
				live("x"), live("p"),
				set("x", ci(0, tU8)),
				set("p", ir.BinOp{
					Op: ir.BinPtrOffset,
					L:  ir.AddrOf{Place: lp("x"), Kind: ir.PtrRaw},
					R: ir.ConstInt{
						V:  ir.NewIntBig(new(big.Int).Lsh(big.NewInt(1), 64)),
						Ty: ir.IntType{Sig: ir.Unsigned, Bytes: 16},
					},
					Inbounds: true,
				}),
			},
			Terminator: exitTerm(0),
		},
	}))
	requireUBCode(t, runProg(t, p), ub.CodeOutOfBounds)
}

func TestRun_SwitchInt(t *testing.T) {
	p := prog(mainFn(nil, map[ir.BBName]ir.BasicBlock{
		"entry": {Terminator: ir.SwitchInt{
			Value: ci(2, tU8),
			Cases: []ir.SwitchCase{
				{Val: ir.NewInt(1), Target: "one"},
				{Val: ir.NewInt(2), Target: "two"},
			},
			Fallback: "other",
		}},
		"one":   {Terminator: exitTerm(1)},
		"two":   {Terminator: exitTerm(2)},
		"other": {Terminator: exitTerm(3)},
	}))
	requireStop(t, runProg(t, p), 2)
}

func TestRun_Loop(t *testing.T) {
	// Sum 0..4 with an If-driven loop, then print the accumulator.
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{"i": pt(tU32, 4), "s": pt(tU32, 4)},
		map[ir.BBName]ir.BasicBlock{
			"entry": {
				Statements: []ir.Statement{
					live("i"), live("s"), live("u"),
					set("i", ci(0, tU32)),
					set("s", ci(0, tU32)),
				},
				Terminator: ir.Goto{Target: "head"},
			},
			"head": {Terminator: ir.If{
				Cond: ir.BinOp{Op: ir.BinLt, L: ir.Load{Src: lp("i")}, R: ci(5, tU32), OpTy: tU32},
				Then: "body",
				Else: "done",
			}},
			"body": {
				Statements: []ir.Statement{
					set("s", ir.BinOp{Op: ir.BinAdd, L: ir.Load{Src: lp("s")}, R: ir.Load{Src: lp("i")}, OpTy: tU32}),
					set("i", ir.BinOp{Op: ir.BinAdd, L: ir.Load{Src: lp("i")}, R: ci(1, tU32), OpTy: tU32}),
				},
				Terminator: ir.Goto{Target: "head"},
			},
			"done": {Terminator: printTerm("end", ir.Load{Src: lp("s")})},
			"end":  {Terminator: exitTerm(0)},
		}))
	var out bytes.Buffer
	requireStop(t, runProg(t, p, WithStdout(&out)), 0)
	assert.Equal(t, "10\n", out.String())
}

func TestRun_MaxSteps(t *testing.T) {
	p := prog(mainFn(nil, map[ir.BBName]ir.BasicBlock{
		"entry": {Terminator: ir.Goto{Target: "entry"}},
	}))
	o := runProg(t, p, WithMaxSteps(16))
	assert.Equal(t, OutcomeExhausted, o.Kind)
}

func TestRun_ContextCancellation(t *testing.T) {
	p := prog(mainFn(nil, map[ir.BBName]ir.BasicBlock{
		"entry": {Terminator: ir.Goto{Target: "entry"}},
	}))
	m, err := New(p, mem.NewFlat(p.Target))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := m.Run(ctx)
	assert.Equal(t, OutcomeExhausted, o.Kind)
}

func TestRun_Validate(t *testing.T) {
	// Validate on a live, valid reference round-trips and retags.
	ref := ir.PtrType{Kind: ir.PtrRef, Meta: &ir.PtrMeta{PointeeSize: 1, PointeeAlign: ir.Align1, Inhabited: true}}
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{
		"x": pt(tU8, 1), "p": pt(ref, 8),
	}, map[ir.BBName]ir.BasicBlock{
		"entry": {
			Statements: []ir.Statement{
				live("x"), live("p"),
				set("x", ci(5, tU8)),
				set("p", ir.AddrOf{Place: lp("x"), Kind: ir.PtrRef, Meta: ref.Meta}),
				ir.Validate{Place: lp("p"), FnEntry: true},
			},
			Terminator: exitTerm(0),
		},
	}))
	requireStop(t, runProg(t, p), 0)
}

func TestRun_ValidateDanglingReference(t *testing.T) {
	ref := ir.PtrType{Kind: ir.PtrRef, Meta: &ir.PtrMeta{PointeeSize: 1, PointeeAlign: ir.Align1, Inhabited: true}}
	p := prog(mainFn(map[ir.LocalName]ir.PlaceType{
		"x": pt(tU8, 1), "p": pt(ref, 8),
	}, map[ir.BBName]ir.BasicBlock{
		"entry": {
			Statements: []ir.Statement{
				live("x"), live("p"),
				set("x", ci(5, tU8)),
				set("p", ir.AddrOf{Place: lp("x"), Kind: ir.PtrRef, Meta: ref.Meta}),
				dead("x"),
				ir.Validate{Place: lp("p"), FnEntry: false},
			},
			Terminator: exitTerm(0),
		},
	}))
	requireUBCode(t, runProg(t, p), ub.CodeUseAfterFree)
}
