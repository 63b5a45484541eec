// Package vm implements the core of an embeddable ECMAScript bytecode
// engine.
//
// This package contains:
//   - the tagged, reference-counted value representation and its heap
//   - compiled code units, the opcode table and a disassembler
//   - the frame context and the dispatch loop
//   - context-stack unwinding for try/catch/finally, loops and destructuring
//   - the call, construct, spread and suspension trampoline
//   - generators and async functions as resumable executables
//   - the script, eval and module entry points
//
// Language algorithms outside control flow (property lookup, operators,
// iteration, promises, object creation) are delegated to a Realm supplied
// by the embedder. Package realm provides a reference implementation.
package vm
