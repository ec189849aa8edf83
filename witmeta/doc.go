// Package witmeta manages the interface description carried by a template's
// component-type custom section.
//
// A template is compiled against a broad world; the produced artifact should
// advertise only the configuration provider world. Reattach swaps the
// template's component-type section for one encoding the selected world and
// records static-config under processed-by:
//
//	pkg, err := witmeta.Default()
//	if err != nil {
//	    return err
//	}
//	world, err := pkg.SelectWorld("adapter")
//	if err != nil {
//	    return err
//	}
//	meta, err := witmeta.Reattach(m, world, "1.0.0")
//
// Parse reads the WIT subset configuration providers need; Default is the
// embedded wasi:config@0.2.0-draft package.
package witmeta
