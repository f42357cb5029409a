package wasm

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"golang.org/x/crypto/sha3"

	"title/internal/domain"
)

// EntryPoint is the export every extension module implements.
const EntryPoint = "process"

// Hash algorithm identifiers shared with guest modules.
const (
	algoSHA256 = 1
	algoSHA384 = 2
	algoSHA512 = 3
	algoKeccak = 4
)

var (
	ErrFuelExhausted = fmt.Errorf("%w: fuel exhausted", domain.ErrWasm)
	ErrMemoryLimit   = fmt.Errorf("%w: memory limit exceeded", domain.ErrWasm)
	ErrExecution     = fmt.Errorf("%w: guest trap", domain.ErrWasm)
	ErrBadModule     = fmt.Errorf("%w: module rejected", domain.ErrWasm)
)

// Runner executes extension modules under a fuel budget and a linear
// memory cap. Every instance is single-use: one content buffer, one
// invocation, then the store is dropped.
type Runner struct {
	FuelLimit   uint64
	MemoryBytes int64
}

// NewRunner returns a Runner with the given per-instantiation budgets.
func NewRunner(fuelLimit uint64, memoryBytes int64) *Runner {
	return &Runner{FuelLimit: fuelLimit, MemoryBytes: memoryBytes}
}

// Execute compiles and runs a module over a read-only content view plus
// this extension's auxiliary input, returning the module's JSON output.
//
// The module's entry point returns a pointer into its linear memory at
// which a little-endian u32 length prefix is followed by UTF-8 JSON.
func (r *Runner) Execute(wasmBytes, content, extensionInput []byte) ([]byte, error) {
	cfg := wasmtime.NewConfig()
	cfg.SetConsumeFuel(true)
	engine := wasmtime.NewEngineWithConfig(cfg)

	store := wasmtime.NewStore(engine)
	store.Limiter(r.MemoryBytes, -1, 1, 1, 1)
	if err := store.SetFuel(r.FuelLimit); err != nil {
		return nil, fmt.Errorf("%w: set fuel: %v", domain.ErrInternal, err)
	}

	module, err := wasmtime.NewModule(engine, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadModule, err)
	}

	linker := wasmtime.NewLinker(engine)
	if err := bindHostFunctions(linker, content, extensionInput); err != nil {
		return nil, fmt.Errorf("%w: bind host functions: %v", domain.ErrInternal, err)
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return nil, classifyTrap(err)
	}

	entry := instance.GetFunc(store, EntryPoint)
	if entry == nil {
		return nil, fmt.Errorf("%w: missing %q export", ErrBadModule, EntryPoint)
	}

	ret, err := entry.Call(store)
	if err != nil {
		return nil, classifyTrap(err)
	}

	ptr, ok := ret.(int32)
	if !ok {
		return nil, fmt.Errorf("%w: entry point returned %T", ErrBadModule, ret)
	}

	mem := instance.GetExport(store, "memory")
	if mem == nil || mem.Memory() == nil {
		return nil, fmt.Errorf("%w: module exports no memory", ErrBadModule)
	}
	return readResult(mem.Memory().UnsafeData(store), uint32(ptr))
}

// readResult decodes the guest's length-prefixed return buffer.
func readResult(data []byte, ptr uint32) ([]byte, error) {
	if uint64(ptr)+4 > uint64(len(data)) {
		return nil, fmt.Errorf("%w: result pointer out of bounds", ErrBadModule)
	}
	length := binary.LittleEndian.Uint32(data[ptr : ptr+4])
	start := uint64(ptr) + 4
	if start+uint64(length) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: result length out of bounds", ErrBadModule)
	}
	out := make([]byte, length)
	copy(out, data[start:start+uint64(length)])
	return out, nil
}

func classifyTrap(err error) error {
	var trap *wasmtime.Trap
	if errors.As(err, &trap) {
		if code := trap.Code(); code != nil && *code == wasmtime.OutOfFuel {
			return ErrFuelExhausted
		}
		return fmt.Errorf("%w: %s", ErrExecution, trap.Message())
	}
	return fmt.Errorf("%w: %v", ErrExecution, err)
}

// bindHostFunctions exposes the narrow host surface. All functions are
// read-only over the host content; their only side effect is writing into
// the module's own linear memory.
func bindHostFunctions(linker *wasmtime.Linker, content, extensionInput []byte) error {
	if err := linker.FuncWrap("env", "read_content_chunk", func(caller *wasmtime.Caller, offset, length, bufPtr int32) int32 {
		window := contentWindow(content, offset, length)
		if window == nil {
			return 0
		}
		mem := callerMemory(caller)
		if mem == nil {
			return 0
		}
		n := copyIntoGuest(mem, bufPtr, window)
		return int32(n)
	}); err != nil {
		return err
	}

	if err := linker.FuncWrap("env", "get_content_length", func() int32 {
		return int32(len(content))
	}); err != nil {
		return err
	}

	if err := linker.FuncWrap("env", "get_extension_input", func(caller *wasmtime.Caller, bufPtr, bufLen int32) int32 {
		if extensionInput == nil {
			return 0
		}
		mem := callerMemory(caller)
		if mem == nil {
			return 0
		}
		if int32(len(extensionInput)) > bufLen {
			return int32(len(extensionInput))
		}
		copyIntoGuest(mem, bufPtr, extensionInput)
		return int32(len(extensionInput))
	}); err != nil {
		return err
	}

	if err := linker.FuncWrap("env", "hash_content", func(caller *wasmtime.Caller, algo, offset, length, outPtr int32) int32 {
		window := contentWindow(content, offset, length)
		if window == nil {
			window = []byte{}
		}
		digest := hashWindow(algo, window)
		if digest == nil {
			return 0
		}
		mem := callerMemory(caller)
		if mem == nil {
			return 0
		}
		return int32(copyIntoGuest(mem, outPtr, digest))
	}); err != nil {
		return err
	}

	return linker.FuncWrap("env", "hmac_content", func(caller *wasmtime.Caller, algo, keyPtr, keyLen, offset, length, outPtr int32) int32 {
		mem := callerMemory(caller)
		if mem == nil {
			return 0
		}
		key := readFromGuest(mem, keyPtr, keyLen)
		if key == nil {
			return 0
		}
		window := contentWindow(content, offset, length)
		if window == nil {
			window = []byte{}
		}
		mac := hmacWindow(algo, key, window)
		if mac == nil {
			return 0
		}
		return int32(copyIntoGuest(mem, outPtr, mac))
	})
}

// contentWindow clips [offset, offset+length) to the content bounds.
// Out-of-range bytes are never exposed.
func contentWindow(content []byte, offset, length int32) []byte {
	if offset < 0 || length < 0 || int(offset) >= len(content) {
		return nil
	}
	end := int64(offset) + int64(length)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return content[offset:end]
}

type guestMemory struct {
	caller *wasmtime.Caller
	mem    *wasmtime.Memory
}

func callerMemory(caller *wasmtime.Caller) *guestMemory {
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		return nil
	}
	return &guestMemory{caller: caller, mem: ext.Memory()}
}

func copyIntoGuest(g *guestMemory, ptr int32, data []byte) int {
	buf := g.mem.UnsafeData(g.caller)
	if ptr < 0 || int64(ptr)+int64(len(data)) > int64(len(buf)) {
		return 0
	}
	return copy(buf[ptr:], data)
}

func readFromGuest(g *guestMemory, ptr, length int32) []byte {
	buf := g.mem.UnsafeData(g.caller)
	if ptr < 0 || length < 0 || int64(ptr)+int64(length) > int64(len(buf)) {
		return nil
	}
	out := make([]byte, length)
	copy(out, buf[ptr:int64(ptr)+int64(length)])
	return out
}

func hashWindow(algo int32, window []byte) []byte {
	var h hash.Hash
	switch algo {
	case algoSHA256:
		h = sha256.New()
	case algoSHA384:
		h = sha512.New384()
	case algoSHA512:
		h = sha512.New()
	case algoKeccak:
		h = sha3.NewLegacyKeccak256()
	default:
		return nil
	}
	h.Write(window)
	return h.Sum(nil)
}

func hmacWindow(algo int32, key, window []byte) []byte {
	var mac hash.Hash
	switch algo {
	case algoSHA256:
		mac = hmac.New(sha256.New, key)
	case algoSHA384:
		mac = hmac.New(sha512.New384, key)
	case algoSHA512:
		mac = hmac.New(sha512.New, key)
	default:
		return nil
	}
	mac.Write(window)
	return mac.Sum(nil)
}
