// Package wasmcodec hosts a string codec compiled to WebAssembly.
//
// Builds that store text in an encoded form ship the codec as a plugin
// module instead of a Go implementation. The module must export:
//
//	memory                   linear memory
//	alloc(size i32) i32      returns a buffer of size bytes
//	decode(ptr, len i32) i64 ROM bytes to UTF-8, result is ptr<<32 | len
//	encode(ptr, len i32) i64 UTF-8 to ROM bytes, result is ptr<<32 | len
//
// The host terminates and pads encoded output to the field width.
package wasmcodec

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/romkit/errors"
	"github.com/wippyai/romkit/textcodec"
)

const (
	exportAlloc  = "alloc"
	exportDecode = "decode"
	exportEncode = "encode"
)

// Config holds plugin runtime limits.
type Config struct {
	// MemoryLimitPages caps guest memory in 64KiB pages. 0 means the
	// wazero default.
	MemoryLimitPages uint32
	// Terminator is the number of zero bytes appended on encode.
	// 0 means 2.
	Terminator int
}

// Codec runs a plugin module. Calls are serialized.
type Codec struct {
	runtime  wazero.Runtime
	module   api.Module
	memory   api.Memory
	allocFn  api.Function
	decodeFn api.Function
	encodeFn api.Function
	ctx      context.Context
	stackBuf []uint64
	term     int
	mu       sync.Mutex
}

var _ textcodec.Codec = (*Codec)(nil)

// New compiles and instantiates a plugin module.
func New(ctx context.Context, wasmBytes []byte, cfg *Config) (*Codec, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	term := 2
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		if cfg.Terminator > 0 {
			term = cfg.Terminator
		}
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	mod, err := runtime.InstantiateWithConfig(ctx, wasmBytes, wazero.NewModuleConfig().WithName("textcodec"))
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "instantiate text codec plugin")
	}

	c := &Codec{
		runtime:  runtime,
		module:   mod,
		memory:   mod.Memory(),
		allocFn:  mod.ExportedFunction(exportAlloc),
		decodeFn: mod.ExportedFunction(exportDecode),
		encodeFn: mod.ExportedFunction(exportEncode),
		ctx:      context.Background(),
		stackBuf: make([]uint64, 4),
		term:     term,
	}
	for name, fn := range map[string]api.Function{exportAlloc: c.allocFn, exportDecode: c.decodeFn, exportEncode: c.encodeFn} {
		if fn == nil {
			_ = runtime.Close(ctx)
			return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
				Detail("plugin does not export %q", name).Build()
		}
	}
	if c.memory == nil {
		_ = runtime.Close(ctx)
		return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).Detail("plugin does not export memory").Build()
	}

	Logger().Debug("text codec plugin loaded", zap.Uint32("memory", c.memory.Size()))
	return c, nil
}

// SetContext sets the context used by Decode and Encode calls.
func (c *Codec) SetContext(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ctx = ctx
}

func (c *Codec) Decode(b []byte) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.call(c.decodeFn, b)
	if err != nil {
		return "", errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "plugin decode")
	}
	return string(out), nil
}

func (c *Codec) Encode(s string, size int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.call(c.encodeFn, []byte(s))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err, "plugin encode")
	}
	return textcodec.Pad(out, size, c.term)
}

// call copies in into guest memory, runs fn and copies the result out.
func (c *Codec) call(fn api.Function, in []byte) ([]byte, error) {
	c.stackBuf[0] = uint64(len(in))
	if err := c.allocFn.CallWithStack(c.ctx, c.stackBuf[:1]); err != nil {
		return nil, fmt.Errorf("alloc: %w", err)
	}
	ptr := uint32(c.stackBuf[0])
	if !c.memory.Write(ptr, in) {
		return nil, fmt.Errorf("write %d bytes at %#x out of range", len(in), ptr)
	}

	c.stackBuf[0] = uint64(ptr)
	c.stackBuf[1] = uint64(len(in))
	if err := fn.CallWithStack(c.ctx, c.stackBuf[:2]); err != nil {
		return nil, err
	}
	outPtr := uint32(c.stackBuf[0] >> 32)
	outLen := uint32(c.stackBuf[0])
	out, ok := c.memory.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("result [%#x, +%d) out of range", outPtr, outLen)
	}
	return append([]byte(nil), out...), nil
}

// Close releases the plugin runtime.
func (c *Codec) Close(ctx context.Context) error {
	return c.runtime.Close(ctx)
}
