package wasm

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v25"
)

func compileWat(t *testing.T, wat string) []byte {
	t.Helper()
	wasmBytes, err := wasmtime.Wat2Wasm(wat)
	if err != nil {
		t.Fatalf("wat2wasm: %v", err)
	}
	return wasmBytes
}

func testRunner() *Runner {
	return NewRunner(10_000_000, 16*1024*1024)
}

// echoModule copies the whole content into guest memory and returns it
// as the length-prefixed result.
const echoModule = `
(module
  (import "env" "get_content_length" (func $len (result i32)))
  (import "env" "read_content_chunk" (func $read (param i32 i32 i32) (result i32)))
  (memory (export "memory") 2)
  (func (export "alloc") (param i32) (result i32) (i32.const 8192))
  (func (export "process") (result i32)
    (local $n i32)
    (local.set $n (call $read (i32.const 0) (call $len) (i32.const 1028)))
    (i32.store (i32.const 1024) (local.get $n))
    (i32.const 1024)))
`

func TestRunnerEchoesContent(t *testing.T) {
	content := []byte(`{"ok":true}`)
	out, err := testRunner().Execute(compileWat(t, echoModule), content, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !bytes.Equal(out, content) {
		t.Fatalf("output %q, want %q", out, content)
	}
}

const inputEchoModule = `
(module
  (import "env" "get_extension_input" (func $input (param i32 i32) (result i32)))
  (memory (export "memory") 2)
  (func (export "alloc") (param i32) (result i32) (i32.const 8192))
  (func (export "process") (result i32)
    (local $n i32)
    (local.set $n (call $input (i32.const 1028) (i32.const 65536)))
    (i32.store (i32.const 1024) (local.get $n))
    (i32.const 1024)))
`

func TestRunnerExtensionInputVisibleOnlyWhenSet(t *testing.T) {
	module := compileWat(t, inputEchoModule)

	input := []byte(`{"threshold":5}`)
	out, err := testRunner().Execute(module, []byte("content"), input)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, input) {
		t.Fatalf("output %q, want %q", out, input)
	}

	// Without an input the guest sees size 0 and returns nothing.
	out, err = testRunner().Execute(module, []byte("content"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty output, got %q", out)
	}
}

const hashModule = `
(module
  (import "env" "get_content_length" (func $len (result i32)))
  (import "env" "hash_content" (func $hash (param i32 i32 i32 i32) (result i32)))
  (memory (export "memory") 2)
  (func (export "alloc") (param i32) (result i32) (i32.const 8192))
  (func (export "process") (result i32)
    (i32.store (i32.const 1024)
      (call $hash (i32.const 1) (i32.const 0) (call $len) (i32.const 1028)))
    (i32.const 1024)))
`

func TestRunnerHostHashing(t *testing.T) {
	content := []byte("abc")
	out, err := testRunner().Execute(compileWat(t, hashModule), content, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := sha256.Sum256(content)
	if !bytes.Equal(out, want[:]) {
		t.Fatalf("digest mismatch: %x", out)
	}
}

const outOfRangeModule = `
(module
  (import "env" "read_content_chunk" (func $read (param i32 i32 i32) (result i32)))
  (memory (export "memory") 2)
  (func (export "alloc") (param i32) (result i32) (i32.const 8192))
  (func (export "process") (result i32)
    (i32.store (i32.const 1028) (call $read (i32.const 100) (i32.const 10) (i32.const 2048)))
    (i32.store (i32.const 1024) (i32.const 4))
    (i32.const 1024)))
`

func TestRunnerReadClipsToContent(t *testing.T) {
	out, err := testRunner().Execute(compileWat(t, outOfRangeModule), []byte("tiny"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Fatalf("output length: %d", len(out))
	}
	if copied := binary.LittleEndian.Uint32(out); copied != 0 {
		t.Fatalf("out-of-range read copied %d bytes", copied)
	}
}

const spinModule = `
(module
  (memory (export "memory") 1)
  (func (export "alloc") (param i32) (result i32) (i32.const 0))
  (func (export "process") (result i32)
    (loop $spin (br $spin))
    (i32.const 0)))
`

func TestRunnerFuelExhaustion(t *testing.T) {
	runner := NewRunner(100_000, 16*1024*1024)
	_, err := runner.Execute(compileWat(t, spinModule), nil, nil)
	if !errors.Is(err, ErrFuelExhausted) {
		t.Fatalf("expected ErrFuelExhausted, got %v", err)
	}
}

const trapModule = `
(module
  (memory (export "memory") 1)
  (func (export "alloc") (param i32) (result i32) (i32.const 0))
  (func (export "process") (result i32)
    (unreachable)))
`

func TestRunnerGuestTrapIsRecoverable(t *testing.T) {
	_, err := testRunner().Execute(compileWat(t, trapModule), nil, nil)
	if !errors.Is(err, ErrExecution) {
		t.Fatalf("expected ErrExecution, got %v", err)
	}
}

func TestRunnerRejectsGarbageModule(t *testing.T) {
	_, err := testRunner().Execute([]byte("not wasm"), nil, nil)
	if !errors.Is(err, ErrBadModule) {
		t.Fatalf("expected ErrBadModule, got %v", err)
	}
}

const noEntryModule = `
(module
  (memory (export "memory") 1))
`

func TestRunnerRequiresEntryPoint(t *testing.T) {
	_, err := testRunner().Execute(compileWat(t, noEntryModule), nil, nil)
	if !errors.Is(err, ErrBadModule) {
		t.Fatalf("expected ErrBadModule, got %v", err)
	}
}
