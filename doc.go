// Package staticconfig bakes a fixed set of configuration entries into a
// WebAssembly configuration provider.
//
// A template is a core module compiled from a wasi:config/store
// implementation that serves its answers from a control block in linear
// memory. CreateComponent copies the entries into the template's memory
// image, points the control block at them, replaces the template's interface
// metadata with the adapter world and wraps the result into a component:
//
//	out, err := staticconfig.CreateComponent(ctx, template, []configdata.Entry{
//	    {Key: "region", Value: "eu-west-1"},
//	})
//
// The pipeline is split across several packages:
//
//	staticconfig/        CreateComponent and Finalize
//	├── wasm/            core module parsing and re-encoding
//	├── layout/          address lookup and stack reservation
//	├── configdata/      entry blob encoding
//	├── embed/           splicing the blob into data segments
//	├── witmeta/         WIT package model and component-type sections
//	├── component/       component binary encoding and decoding
//	├── runtime/         reading entries back from an artifact with wazero
//	└── errors/          structured error types
package staticconfig
