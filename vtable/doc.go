// Package vtable builds patched copies of MSVC virtual function tables.
//
// An MSVC table is preceded by one header word (the complete object locator),
// so a copy spans entries+1 words starting one word before the table. The
// copy built here adds one more word after the last entry that carries a
// private context value for the replaced slot:
//
//	[header][entry 0]...[entry slot = trampoline]...[entry n-1][context]
//	         ^ vptr
package vtable
