// Package exmat is a small dynamically typed scripting language with first
// class support for complex numbers, matrices and mathematical spaces.
//
// Source is compiled by src/parse in a single pass straight to bytecode, with
// no syntax tree in between, and executed by the stack based vm in
// src/runtime. Values are reference counted, captured variables are shared
// through outers, and callables come in several kinds: functions, lambdas,
// rules (boolean predicates), clusters (relations whose parameters are
// constrained to spaces like @R or @Z+^2) and sequences (memoized
// recurrences with declared initial terms).
//
//	seq fib(n) { 0: 0, 1: 1 } => fib(n - 1) + fib(n - 2);
//	println(fib(50));
//
// The cmd/exmat binary runs scripts, precompiled chunks and a repl.
package exmat
