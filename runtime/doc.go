// Package runtime reads the configuration back out of a produced artifact.
//
// Load instantiates the artifact's core module with wazero and follows the
// exported CONFIG global to the control block, the same way the provider's
// own get and get-all implementations do:
//
//	store, err := runtime.Load(ctx, artifact)
//	if err != nil {
//	    return err
//	}
//	defer store.Close(ctx)
//
//	region, ok, err := store.Get(ctx, "region")
//
// Both finished components and patched core modules are accepted.
package runtime
