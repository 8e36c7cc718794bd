package ir

// Statement is a non-control-flow instruction. Sealed union.
type Statement interface {
	irStatement() // sealed
}

// Assign evaluates Src, then Dest, then stores the value at Dest typed at
// the destination place's type. No implicit re-validation happens.
type Assign struct {
	Dest PlaceExpr
	Src  ValueExpr
}

func (Assign) irStatement() {}

// PlaceMention evaluates a place for its bounds-checking side effects
// without loading from it. Touching a dangling place this way is legal as
// long as it is not dereferenced.
type PlaceMention struct {
	Place PlaceExpr
}

func (PlaceMention) irStatement() {}

// Validate loads then stores the place at its own type, asserting and
// restoring the validity invariant and driving retagging.
type Validate struct {
	Place   PlaceExpr
	FnEntry bool
}

func (Validate) irStatement() {}

// StorageLive allocates backing memory for a local. Re-living a dead local
// may reuse its old address.
type StorageLive struct {
	Local LocalName
}

func (StorageLive) irStatement() {}

// StorageDead deallocates a local's backing memory, invalidating every
// pointer into it.
type StorageDead struct {
	Local LocalName
}

func (StorageDead) irStatement() {}
