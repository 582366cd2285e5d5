package locate

import (
	"strings"
	"sync"

	"github.com/wippyai/scriptbridge"
	"github.com/wippyai/scriptbridge/errors"
)

// PE header offsets.
const (
	dosLfanew        = 0x3c
	optHeaderOffset  = 24
	magicPE32        = 0x10b
	magicPE32Plus    = 0x20b
	dataDirPE32      = 96
	dataDirPE32Plus  = 112
	exportNumNames   = 24
	exportFunctions  = 28
	exportNames      = 32
	exportOrdinals   = 36
	maxExportedNames = 1 << 16
)

// Exports resolves symbols from the export directories of registered module
// images.
type Exports struct {
	mem scriptbridge.Memory

	mu      sync.Mutex
	modules map[string]uintptr
	tables  map[string]map[string]uint32
}

// NewExports creates an export locator reading images through mem.
func NewExports(mem scriptbridge.Memory) *Exports {
	return &Exports{
		mem:     mem,
		modules: make(map[string]uintptr),
		tables:  make(map[string]map[string]uint32),
	}
}

// Add registers the image of module loaded at base.
func (x *Exports) Add(module string, base uintptr) {
	key := moduleKey(module)
	x.mu.Lock()
	defer x.mu.Unlock()
	x.modules[key] = base
	delete(x.tables, key)
}

// Locate implements Locator.
func (x *Exports) Locate(module, symbol string) (uintptr, error) {
	key := moduleKey(module)

	x.mu.Lock()
	defer x.mu.Unlock()
	base, ok := x.modules[key]
	if !ok {
		return 0, notFound(module, symbol, errors.NotFound(errors.PhaseLocate, "module", module))
	}
	table, ok := x.tables[key]
	if !ok {
		var err error
		table, err = readExports(x.mem, base)
		if err != nil {
			return 0, notFound(module, symbol, err)
		}
		x.tables[key] = table
	}
	rva, ok := table[symbol]
	if !ok {
		return 0, notFound(module, symbol, nil)
	}
	return base + uintptr(rva), nil
}

func moduleKey(module string) string {
	return strings.TrimSuffix(strings.ToLower(module), ".dll")
}

// readExports maps exported names to function RVAs. Forwarded exports are
// left out since their RVA points at a forwarder string.
func readExports(mem scriptbridge.Memory, base uintptr) (map[string]uint32, error) {
	dir, size, err := exportDirectory(mem, base)
	if err != nil {
		return nil, err
	}
	if dir == 0 {
		return map[string]uint32{}, nil
	}

	at := func(off uint32) uintptr { return base + uintptr(off) }
	u32 := func(addr uintptr) (uint32, error) { return mem.ReadU32(addr) }

	numNames, err := u32(at(dir + exportNumNames))
	if err != nil {
		return nil, err
	}
	if numNames > maxExportedNames {
		return nil, errors.InvalidData(errors.PhaseLocate, "export directory claims too many names")
	}
	funcs, err := u32(at(dir + exportFunctions))
	if err != nil {
		return nil, err
	}
	names, err := u32(at(dir + exportNames))
	if err != nil {
		return nil, err
	}
	ords, err := u32(at(dir + exportOrdinals))
	if err != nil {
		return nil, err
	}

	out := make(map[string]uint32, numNames)
	for i := uint32(0); i < numNames; i++ {
		nameRVA, err := u32(at(names + i*4))
		if err != nil {
			return nil, err
		}
		name, err := scriptbridge.ReadCString(mem, at(nameRVA))
		if err != nil {
			return nil, err
		}
		ordRaw, err := mem.Read(at(ords+i*2), 2)
		if err != nil {
			return nil, err
		}
		ord := uint32(ordRaw[0]) | uint32(ordRaw[1])<<8
		rva, err := u32(at(funcs + ord*4))
		if err != nil {
			return nil, err
		}
		if rva == 0 || (rva >= dir && rva < dir+size) {
			continue
		}
		out[name] = rva
	}
	return out, nil
}

func exportDirectory(mem scriptbridge.Memory, base uintptr) (rva, size uint32, err error) {
	mz, err := mem.Read(base, 2)
	if err != nil {
		return 0, 0, err
	}
	if mz[0] != 'M' || mz[1] != 'Z' {
		return 0, 0, errors.InvalidData(errors.PhaseLocate, "missing DOS signature")
	}
	peOff, err := mem.ReadU32(base + dosLfanew)
	if err != nil {
		return 0, 0, err
	}
	nt := base + uintptr(peOff)
	sig, err := mem.ReadU32(nt)
	if err != nil {
		return 0, 0, err
	}
	if sig != 0x00004550 {
		return 0, 0, errors.InvalidData(errors.PhaseLocate, "missing PE signature")
	}

	opt := nt + optHeaderOffset
	magicRaw, err := mem.Read(opt, 2)
	if err != nil {
		return 0, 0, err
	}
	var dd uintptr
	switch uint16(magicRaw[0]) | uint16(magicRaw[1])<<8 {
	case magicPE32:
		dd = opt + dataDirPE32
	case magicPE32Plus:
		dd = opt + dataDirPE32Plus
	default:
		return 0, 0, errors.InvalidData(errors.PhaseLocate, "unknown optional header magic")
	}
	if rva, err = mem.ReadU32(dd); err != nil {
		return 0, 0, err
	}
	if size, err = mem.ReadU32(dd + 4); err != nil {
		return 0, 0, err
	}
	return rva, size, nil
}
