// Package component encodes and decodes the subset of the WebAssembly
// Component Model binary format needed to ship a configuration provider as a
// component.
//
// Builder wraps a patched core module into a component exporting its
// interfaces. WorldType and InstanceType encode interface descriptions as
// component types, which is the payload format of component-type custom
// sections.
//
//	b, err := component.NewBuilder(core)
//	if err != nil {
//	    return err
//	}
//	if err := b.Export(store); err != nil {
//	    return err
//	}
//	out, err := b.Encode()
//
// Decode parses a component into its sections; Check verifies that every
// index refers to an item already defined in the matching index space.
//
//	c, err := component.Decode(out)
//	if err != nil {
//	    return err
//	}
//	if err := c.Check(); err != nil {
//	    return err
//	}
package component
