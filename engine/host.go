package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	extensionhost "github.com/wippyai/extension-host"
	"github.com/wippyai/extension-host/errors"
)

type hostCallsKey struct{}

func withHostCalls(ctx context.Context, host extensionhost.HostCalls) context.Context {
	if host == nil {
		return ctx
	}
	return context.WithValue(ctx, hostCallsKey{}, host)
}

func hostCallsFrom(ctx context.Context) extensionhost.HostCalls {
	host, _ := ctx.Value(hostCallsKey{}).(extensionhost.HostCalls)
	return host
}

// instantiateHostModule defines the tanoshi import module once per runtime.
// Each call finds the calling instance's import table in its context.
func instantiateHostModule(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64

	return r.NewHostModuleBuilder(extensionhost.HostModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostFetch), []api.ValueType{i32, i32}, []api.ValueType{i64}).
		WithParameterNames("req_ptr", "req_len").
		Export(extensionhost.ImportFetch).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(hostLog), []api.ValueType{i32, i32, i32}, nil).
		WithParameterNames("level", "msg_ptr", "msg_len").
		Export(extensionhost.ImportLog).
		Instantiate(ctx)
}

// hostFetch: (req_ptr, req_len) -> resp_ptr<<32 | resp_len, or 0 for no response.
// The response buffer is allocated with the guest's alloc export and owned by
// the guest afterwards.
func hostFetch(ctx context.Context, mod api.Module, stack []uint64) {
	ptr, size := api.DecodeU32(stack[0]), api.DecodeU32(stack[1])
	stack[0] = 0

	req, ok := mod.Memory().Read(ptr, size)
	if !ok {
		panic(errors.Malformed(errors.PhaseHost, extensionhost.ImportFetch, "request buffer outside guest memory", nil))
	}
	host := hostCallsFrom(ctx)
	if host == nil {
		debugf("fetch without host calls bound")
		return
	}

	resp := host.Fetch(ctx, append([]byte(nil), req...))
	if len(resp) == 0 {
		return
	}

	alloc := mod.ExportedFunction(extensionhost.ExportAlloc)
	res, err := alloc.Call(ctx, uint64(len(resp)))
	if err != nil {
		// deadline or trap inside alloc; propagate it to the outer call
		panic(err)
	}
	rptr := api.DecodeU32(res[0])
	if !mod.Memory().Write(rptr, resp) {
		panic(errors.Malformed(errors.PhaseHost, extensionhost.ImportFetch, "alloc returned unusable buffer", nil))
	}
	stack[0] = uint64(rptr)<<32 | uint64(len(resp))
}

// hostLog: (level, msg_ptr, msg_len) -> ()
func hostLog(ctx context.Context, mod api.Module, stack []uint64) {
	level := api.DecodeI32(stack[0])
	ptr, size := api.DecodeU32(stack[1]), api.DecodeU32(stack[2])

	msg, ok := mod.Memory().Read(ptr, size)
	if !ok {
		Logger().Warn("guest log outside memory", zap.Uint32("ptr", ptr), zap.Uint32("len", size))
		return
	}
	if host := hostCallsFrom(ctx); host != nil {
		host.Log(ctx, level, string(msg))
	}
}
