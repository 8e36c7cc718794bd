package wf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/ub"
)

var u8 = ir.IntType{Sig: ir.Unsigned, Bytes: 1}

// validProg builds a minimal well-formed program the cases below mutate.
func validProg() *ir.Program {
	return &ir.Program{
		Functions: map[ir.FnName]ir.Function{
			"main": {
				Name: "main",
				Ret:  "ret",
				Locals: map[ir.LocalName]ir.PlaceType{
					"ret": {Ty: ir.TupleType{TupleSize: 0}, Align: ir.Align1},
					"x":   {Ty: u8, Align: ir.Align1},
				},
				Blocks: map[ir.BBName]ir.BasicBlock{
					"entry": {
						Statements: []ir.Statement{
							ir.StorageLive{Local: "x"},
							ir.Assign{Dest: ir.PlaceLocal{Name: "x"}, Src: ir.ConstInt{V: ir.NewInt(1), Ty: u8}},
						},
						Terminator: ir.Intrinsic{
							Op:   ir.IntrinsicExit,
							Args: []ir.ValueExpr{ir.ConstInt{V: ir.NewInt(0), Ty: u8}},
							Ret:  ir.PlaceLocal{Name: "ret"},
						},
					},
				},
				Start: "entry",
			},
		},
		Globals: map[ir.GlobalName]ir.Global{
			"g": {Size: 2, Align: ir.MustAlign(2), Init: []byte{1, 2}},
		},
		Start:  "main",
		Target: ir.DefaultTarget,
	}
}

func requireIllFormed(t *testing.T, prog *ir.Program, fragment string) {
	t.Helper()
	err := Check(prog)
	require.Error(t, err)
	require.True(t, ub.IsIllFormed(err), "expected ill-formed, got %v", err)
	assert.Contains(t, err.Error(), fragment)
}

func TestCheck_ValidProgram(t *testing.T) {
	assert.NoError(t, Check(validProg()))
}

func TestCheck_BadTarget(t *testing.T) {
	p := validProg()
	p.Target.PtrBytes = 3
	requireIllFormed(t, p, "pointer width")
}

func TestCheck_MissingStartFunction(t *testing.T) {
	p := validProg()
	p.Start = "nope"
	requireIllFormed(t, p, "start function")
}

func TestCheck_GlobalInitSizeMismatch(t *testing.T) {
	p := validProg()
	g := p.Globals["g"]
	g.Init = []byte{1}
	p.Globals["g"] = g
	requireIllFormed(t, p, "initializer")
}

func TestCheck_MissingStartBlock(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Start = "nope"
	p.Functions["main"] = fn
	requireIllFormed(t, p, "start block")
}

func TestCheck_UndeclaredReturnLocal(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Ret = "nope"
	p.Functions["main"] = fn
	requireIllFormed(t, p, "return local")
}

func TestCheck_UndeclaredLocalInStatement(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	bb := fn.Blocks["entry"]
	bb.Statements = append(bb.Statements, ir.StorageLive{Local: "ghost"})
	fn.Blocks["entry"] = bb
	requireIllFormed(t, p, `local "ghost"`)
}

func TestCheck_DanglingBlockTarget(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Blocks["loose"] = ir.BasicBlock{Terminator: ir.Goto{Target: "nowhere"}}
	requireIllFormed(t, p, `target block "nowhere"`)
}

func TestCheck_ConstantOutOfBounds(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	bb := fn.Blocks["entry"]
	bb.Statements = append(bb.Statements,
		ir.Assign{Dest: ir.PlaceLocal{Name: "x"}, Src: ir.ConstInt{V: ir.NewInt(300), Ty: u8}})
	fn.Blocks["entry"] = bb
	requireIllFormed(t, p, "does not fit")
}

func TestCheck_InvalidIntWidth(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["bad"] = ir.PlaceType{Ty: ir.IntType{Sig: ir.Signed, Bytes: 3}, Align: ir.Align1}
	requireIllFormed(t, p, "integer width")
}

func TestCheck_SafePointerWithoutMeta(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["r"] = ir.PlaceType{Ty: ir.PtrType{Kind: ir.PtrRef}, Align: ir.MustAlign(8)}
	requireIllFormed(t, p, "pointee layout")
}

func TestCheck_RawPointerWithMeta(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["r"] = ir.PlaceType{
		Ty:    ir.PtrType{Kind: ir.PtrRaw, Meta: &ir.PtrMeta{PointeeSize: 1, PointeeAlign: ir.Align1}},
		Align: ir.MustAlign(8),
	}
	requireIllFormed(t, p, "carries a pointee layout")
}

func TestCheck_TupleFieldPastSize(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["t"] = ir.PlaceType{
		Ty: ir.TupleType{
			Fields:    []ir.Field{{Offset: 3, Ty: ir.IntType{Sig: ir.Unsigned, Bytes: 4}}},
			TupleSize: 4,
		},
		Align: ir.Align1,
	}
	requireIllFormed(t, p, "past tuple size")
}

func TestCheck_TupleFieldsOverlap(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["t"] = ir.PlaceType{
		Ty: ir.TupleType{
			Fields: []ir.Field{
				{Offset: 0, Ty: ir.IntType{Sig: ir.Unsigned, Bytes: 4}},
				{Offset: 2, Ty: ir.IntType{Sig: ir.Unsigned, Bytes: 4}},
			},
			TupleSize: 8,
		},
		Align: ir.Align1,
	}
	requireIllFormed(t, p, "overlap")
}

func TestCheck_UnionChunksOverlap(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["un"] = ir.PlaceType{
		Ty: ir.UnionType{
			Chunks:    []ir.Chunk{{Offset: 0, Length: 4}, {Offset: 2, Length: 4}},
			UnionSize: 8,
		},
		Align: ir.Align1,
	}
	requireIllFormed(t, p, "overlap")
}

func TestCheck_NicheEncodingRejected(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["e"] = ir.PlaceType{
		Ty: ir.EnumType{
			Variants: []ir.Variant{{Tag: ir.NewInt(0), Payload: ir.TupleType{TupleSize: 0}}},
			Encoding: ir.TagNiche,
			TagBytes: 1,
			EnumSize: 1,
		},
		Align: ir.Align1,
	}
	requireIllFormed(t, p, "niche")
}

func TestCheck_EnumTagOverlapsPayload(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["e"] = ir.PlaceType{
		Ty: ir.EnumType{
			Variants:  []ir.Variant{{Tag: ir.NewInt(0), Payload: u8}},
			Encoding:  ir.TagDirect,
			TagOffset: 0,
			TagBytes:  1,
			TagSig:    ir.Unsigned,
			EnumSize:  2,
		},
		Align: ir.Align1,
	}
	requireIllFormed(t, p, "overlaps the payload")
}

func TestCheck_EnumDuplicateTags(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["e"] = ir.PlaceType{
		Ty: ir.EnumType{
			Variants: []ir.Variant{
				{Tag: ir.NewInt(1), Payload: ir.TupleType{TupleSize: 0}},
				{Tag: ir.NewInt(1), Payload: ir.TupleType{TupleSize: 0}},
			},
			Encoding:  ir.TagDirect,
			TagOffset: 0,
			TagBytes:  1,
			TagSig:    ir.Unsigned,
			EnumSize:  1,
		},
		Align: ir.Align1,
	}
	requireIllFormed(t, p, "repeats")
}

func TestCheck_CallWithoutReturnPlace(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	next := ir.BBName("entry")
	fn.Blocks["callsite"] = ir.BasicBlock{
		Terminator: ir.Call{Callee: ir.ConstFn{Fn: "main"}, Next: &next},
	}
	requireIllFormed(t, p, "no return place")
}

func TestCheck_IntrinsicWithoutContinuation(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Blocks["printer"] = ir.BasicBlock{
		Terminator: ir.Intrinsic{
			Op:  ir.IntrinsicPrintStdout,
			Ret: ir.PlaceLocal{Name: "ret"},
		},
	}
	requireIllFormed(t, p, "no continuation block")
}

func TestCheck_SwitchDuplicateCases(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Blocks["sw"] = ir.BasicBlock{
		Terminator: ir.SwitchInt{
			Value: ir.ConstInt{V: ir.NewInt(0), Ty: u8},
			Cases: []ir.SwitchCase{
				{Val: ir.NewInt(1), Target: "entry"},
				{Val: ir.NewInt(1), Target: "entry"},
			},
			Fallback: "entry",
		},
	}
	requireIllFormed(t, p, "repeats")
}

func TestCheck_AddrOfFnKindRejected(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	bb := fn.Blocks["entry"]
	bb.Statements = append(bb.Statements, ir.PlaceMention{Place: ir.PlaceDeref{
		Ptr: ir.AddrOf{Place: ir.PlaceLocal{Name: "x"}, Kind: ir.PtrFn},
		Pty: ir.PlaceType{Ty: u8, Align: ir.Align1},
	}})
	fn.Blocks["entry"] = bb
	requireIllFormed(t, p, "cannot take an address")
}

// mention appends a PlaceMention of the given place to main's entry block.
func mention(p *ir.Program, place ir.PlaceExpr) {
	fn := p.Functions["main"]
	bb := fn.Blocks["entry"]
	bb.Statements = append(bb.Statements, ir.PlaceMention{Place: place})
	fn.Blocks["entry"] = bb
}

// assignX appends an assignment of src into the u8 local x.
func assignX(p *ir.Program, src ir.ValueExpr) {
	fn := p.Functions["main"]
	bb := fn.Blocks["entry"]
	bb.Statements = append(bb.Statements,
		ir.Assign{Dest: ir.PlaceLocal{Name: "x"}, Src: src})
	fn.Blocks["entry"] = bb
}

func TestCheck_IfConditionNotBool(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Blocks["branch"] = ir.BasicBlock{
		Terminator: ir.If{
			Cond: ir.ConstInt{V: ir.NewInt(1), Ty: u8},
			Then: "entry",
			Else: "entry",
		},
	}
	requireIllFormed(t, p, "if condition is not a boolean")
}

func TestCheck_SwitchOnBool(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Blocks["sw"] = ir.BasicBlock{
		Terminator: ir.SwitchInt{
			Value:    ir.ConstBool{B: true},
			Fallback: "entry",
		},
	}
	requireIllFormed(t, p, "switch discriminant is not an integer")
}

func TestCheck_AssignIncompatibleType(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["b"] = ir.PlaceType{Ty: ir.BoolType{}, Align: ir.Align1}
	bb := fn.Blocks["entry"]
	bb.Statements = append(bb.Statements,
		ir.Assign{Dest: ir.PlaceLocal{Name: "b"}, Src: ir.ConstInt{V: ir.NewInt(1), Ty: u8}})
	fn.Blocks["entry"] = bb
	requireIllFormed(t, p, "incompatible with the destination type")
}

func TestCheck_AssignNarrowedInt(t *testing.T) {
	p := validProg()
	assignX(p, ir.ConstInt{V: ir.NewInt(1), Ty: ir.IntType{Sig: ir.Unsigned, Bytes: 4}})
	requireIllFormed(t, p, "incompatible with the destination type")
}

func TestCheck_FieldAccessOnScalar(t *testing.T) {
	p := validProg()
	mention(p, ir.PlaceField{Base: ir.PlaceLocal{Name: "x"}, Idx: 0})
	requireIllFormed(t, p, "field access on a non-tuple place")
}

func TestCheck_FieldIndexOutOfRange(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["t"] = ir.PlaceType{
		Ty:    ir.TupleType{Fields: []ir.Field{{Offset: 0, Ty: u8}}, TupleSize: 1},
		Align: ir.Align1,
	}
	mention(p, ir.PlaceField{Base: ir.PlaceLocal{Name: "t"}, Idx: 1})
	requireIllFormed(t, p, "out of range")
}

func TestCheck_IndexOnNonArray(t *testing.T) {
	p := validProg()
	mention(p, ir.PlaceIndex{
		Base:  ir.PlaceLocal{Name: "x"},
		Index: ir.ConstInt{V: ir.NewInt(0), Ty: u8},
	})
	requireIllFormed(t, p, "index access on a non-array place")
}

func TestCheck_IndexNotInteger(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	fn.Locals["a"] = ir.PlaceType{Ty: ir.ArrayType{Elem: u8, Count: 2}, Align: ir.Align1}
	mention(p, ir.PlaceIndex{Base: ir.PlaceLocal{Name: "a"}, Index: ir.ConstBool{B: false}})
	requireIllFormed(t, p, "index is not an integer")
}

func TestCheck_DerefOfNonPointer(t *testing.T) {
	p := validProg()
	mention(p, ir.PlaceDeref{
		Ptr: ir.ConstInt{V: ir.NewInt(0), Ty: u8},
		Pty: ir.PlaceType{Ty: u8, Align: ir.Align1},
	})
	requireIllFormed(t, p, "dereference of a non-pointer")
}

func TestCheck_ComparisonOfBools(t *testing.T) {
	p := validProg()
	assignX(p, ir.BinOp{Op: ir.BinEq, L: ir.ConstBool{B: true}, R: ir.ConstBool{B: true}})
	requireIllFormed(t, p, "comparison of non-integer operands")
}

func TestCheck_ArithmeticOnBool(t *testing.T) {
	p := validProg()
	assignX(p, ir.BinOp{
		Op:   ir.BinAdd,
		L:    ir.ConstBool{B: true},
		R:    ir.ConstInt{V: ir.NewInt(1), Ty: u8},
		OpTy: u8,
	})
	requireIllFormed(t, p, "arithmetic on a non-integer operand")
}

func TestCheck_PtrOffsetNonPointerBase(t *testing.T) {
	p := validProg()
	assignX(p, ir.BinOp{
		Op: ir.BinPtrOffset,
		L:  ir.ConstInt{V: ir.NewInt(0), Ty: u8},
		R:  ir.ConstInt{V: ir.NewInt(1), Ty: u8},
	})
	requireIllFormed(t, p, "pointer offset of a non-pointer base")
}

func TestCheck_PtrOffsetNonIntegerDelta(t *testing.T) {
	p := validProg()
	assignX(p, ir.BinOp{
		Op: ir.BinPtrOffset,
		L:  ir.ConstGlobal{Global: "g"},
		R:  ir.ConstBool{B: true},
	})
	requireIllFormed(t, p, "pointer offset by a non-integer delta")
}

func TestCheck_Ptr2IntOfNonPointer(t *testing.T) {
	p := validProg()
	assignX(p, ir.UnOp{Op: ir.UnPtr2Int, E: ir.ConstInt{V: ir.NewInt(0), Ty: u8}, OpTy: u8})
	requireIllFormed(t, p, "ptr2int operand is not a pointer")
}

func TestCheck_Int2PtrOfNonInteger(t *testing.T) {
	p := validProg()
	assignX(p, ir.UnOp{
		Op:    ir.UnInt2Ptr,
		E:     ir.ConstBool{B: true},
		PtrTy: ir.PtrType{Kind: ir.PtrRaw},
	})
	requireIllFormed(t, p, "int2ptr operand is not an integer")
}

func TestCheck_TupleLiteralFieldMismatch(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	tt := ir.TupleType{Fields: []ir.Field{{Offset: 0, Ty: u8}}, TupleSize: 1}
	fn.Locals["t"] = ir.PlaceType{Ty: tt, Align: ir.Align1}
	bb := fn.Blocks["entry"]
	bb.Statements = append(bb.Statements, ir.Assign{
		Dest: ir.PlaceLocal{Name: "t"},
		Src:  ir.TupleExpr{Fields: []ir.ValueExpr{ir.ConstBool{B: true}}, Ty: tt},
	})
	fn.Blocks["entry"] = bb
	requireIllFormed(t, p, "tuple literal field 0 has an incompatible type")
}

func TestCheck_VariantPayloadMismatch(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	et := ir.EnumType{
		Variants:  []ir.Variant{{Tag: ir.NewInt(0), Payload: u8}},
		Encoding:  ir.TagDirect,
		TagOffset: 1,
		TagBytes:  1,
		TagSig:    ir.Unsigned,
		EnumSize:  2,
	}
	fn.Locals["e"] = ir.PlaceType{Ty: et, Align: ir.Align1}
	bb := fn.Blocks["entry"]
	bb.Statements = append(bb.Statements, ir.Assign{
		Dest: ir.PlaceLocal{Name: "e"},
		Src:  ir.VariantExpr{Idx: 0, Inner: ir.ConstBool{B: true}, Ty: et},
	})
	fn.Blocks["entry"] = bb
	requireIllFormed(t, p, "variant payload has an incompatible type")
}

func TestCheck_IntrinsicPrintNonUnitReturn(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	next := ir.BBName("entry")
	fn.Blocks["printer"] = ir.BasicBlock{
		Terminator: ir.Intrinsic{
			Op:   ir.IntrinsicPrintStdout,
			Args: []ir.ValueExpr{ir.ConstInt{V: ir.NewInt(7), Ty: u8}},
			Ret:  ir.PlaceLocal{Name: "x"},
			Next: &next,
		},
	}
	requireIllFormed(t, p, "stores nothing")
}

func TestCheck_IntrinsicAllocateNonPointerReturn(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	next := ir.BBName("entry")
	fn.Blocks["alloc"] = ir.BasicBlock{
		Terminator: ir.Intrinsic{
			Op: ir.IntrinsicAllocate,
			Args: []ir.ValueExpr{
				ir.ConstInt{V: ir.NewInt(1), Ty: u8},
				ir.ConstInt{V: ir.NewInt(1), Ty: u8},
			},
			Ret:  ir.PlaceLocal{Name: "x"},
			Next: &next,
		},
	}
	requireIllFormed(t, p, "returns a pointer")
}

func TestCheck_CompareExchangeOperandMismatch(t *testing.T) {
	p := validProg()
	fn := p.Functions["main"]
	next := ir.BBName("entry")
	fn.Blocks["cas"] = ir.BasicBlock{
		Terminator: ir.Intrinsic{
			Op: ir.IntrinsicAtomicCompareExchange,
			Args: []ir.ValueExpr{
				ir.ConstGlobal{Global: "g"},
				ir.ConstInt{V: ir.NewInt(0), Ty: ir.IntType{Sig: ir.Unsigned, Bytes: 4}},
				ir.ConstInt{V: ir.NewInt(1), Ty: u8},
			},
			Ret:  ir.PlaceLocal{Name: "x"},
			Next: &next,
		},
	}
	requireIllFormed(t, p, "incompatible with its integer type")
}
