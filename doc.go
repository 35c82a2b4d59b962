// Package extensionhost hosts catalog provider modules: sandboxed WebAssembly
// binaries, one per manga catalog site, exposed to applications through a
// uniform request interface.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	extensionhost/       Root package with the Module, Guest and HostCalls contracts
//	├── store/           Module binary store (directory or fs.FS, index.json sidecar)
//	├── manifest/        Provider metadata, embedded section and discovery index
//	├── compat/          Interface version compatibility rule
//	├── engine/          wazero sandbox: compile, instantiate, invoke
//	├── bridge/          Boundary envelopes, typed operations, host imports
//	├── pool/            Bounded instance pools with fair blocking acquire
//	├── registry/        Provider registry with atomically swapped snapshots
//	├── bus/             Extension bus: list, search, latest, detail, chapter
//	├── config/          Host configuration (TOML or YAML)
//	├── cmd/exthost/     Command line host and interactive explorer
//	├── wasm/            Core WASM binary scanning and encoding primitives
//	├── errors/          Structured error types
//	└── providertest/    Reference provider for tests
//
// # Quick Start
//
//	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	reg := registry.New(registry.Options{
//	    Compiler: eng,
//	    Host:     bridge.NewHost(bridge.HostConfig{}),
//	})
//	defer reg.Close(ctx)
//	report, err := reg.Load(ctx, store.NewDir("./repo"))
//	if err != nil {
//	    log.Fatal(err) // store unreachable
//	}
//	for _, err := range report.Errors {
//	    log.Println("skipped:", err)
//	}
//
//	b := bus.New(reg, bus.Options{CallTimeout: 30 * time.Second})
//	for _, p := range b.List(ctx) {
//	    entries, err := b.Latest(ctx, p.ID)
//	    ...
//	}
//
// # Guest ABI
//
// A provider is a core WebAssembly module exporting memory, alloc and the
// operations search, latest, detail and chapter. Each operation takes a
// pointer and length of an encoded request and returns ptr<<32|len of the
// encoded response. Guests may import fetch and log from the tanoshi module.
// Payloads are copied across the boundary; guest memory is never aliased.
package extensionhost
