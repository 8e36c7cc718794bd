// Package ir provides the low-level intermediate representation ("LIR")
// executed by the abstract machine.
//
// This package contains data definitions only. All other internal packages
// import ir; ir imports nothing internal. This ensures IR remains the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Integer values are arbitrary precision (Int wraps math/big.Int);
//     the machine truncates at typed boundaries, never here
//   - Size and Align are byte counts; Align is always a power of two
//   - Value, Type, ValueExpr, PlaceExpr, Statement and Terminator are
//     sealed unions: the closed set of implementations lives in this
//     package and dispatch is an exhaustive type switch
//   - Programs are closed: every function, block and local referenced
//     anywhere must be declared in the Program itself
package ir
