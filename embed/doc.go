// Package embed splices encoded configuration entries into a template core
// module.
//
// Embed reserves space at the top of the shadow stack, writes the encoded
// entries there, and fills the entry count and data pointer of the control
// block the template exports as CONFIG. Every change is staged first; the
// module is mutated only once all of them are known to succeed.
//
//	m, err := wasm.Parse(template)
//	if err != nil {
//	    return err
//	}
//	res, err := embed.Embed(m, []configdata.Entry{{Key: "greeting", Value: "hello"}})
//	if err != nil {
//	    return err
//	}
//	out := m.Encode()
package embed
