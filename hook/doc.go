// Package hook installs inline redirects on x86-64 functions.
//
// A redirect overwrites the first instructions of the target with an absolute
// jump to the replacement. The overwritten instructions are relocated into a
// trampoline that ends with a jump back into the target, so the replacement
// can still call the original through Hook.Original.
//
// All patching happens inside a Transaction. Attach and Detach only stage
// work; Commit applies every staged patch or none of them:
//
//	tx, err := hook.Begin(mem)
//	if err != nil {
//		return err
//	}
//	tx.UpdateThread(current)
//	h, err := tx.Attach(target, replacement)
//	if err != nil {
//		tx.Abort()
//		return err
//	}
//	if err := tx.Commit(); err != nil {
//		return err
//	}
//	defer h.Close()
//
// Only one transaction may be open per process at a time.
package hook
