//go:build windows && amd64

package symbols

import (
	"sync"
	"syscall"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"

	"github.com/wippyai/scriptbridge/errors"
)

var (
	moddbghelp = windows.NewLazySystemDLL("dbghelp.dll")

	procSymSetOptions      = moddbghelp.NewProc("SymSetOptions")
	procSymInitialize      = moddbghelp.NewProc("SymInitialize")
	procSymGetTypeFromName = moddbghelp.NewProc("SymGetTypeFromName")
	procSymGetTypeInfo     = moddbghelp.NewProc("SymGetTypeInfo")
	procSymFromName        = moddbghelp.NewProc("SymFromName")
)

const (
	symoptUndname       = 0x00000002
	symoptDeferredLoads = 0x00000004
	symoptLoadAnything  = 0x00000040
)

// IMAGEHLP_SYMBOL_TYPE_INFO
const (
	tiGetSymName       = 1
	tiGetLength        = 2
	tiFindChildren     = 7
	tiGetOffset        = 10
	tiGetChildrenCount = 13
)

const maxSymbolName = 1024

// symbolInfo mirrors SYMBOL_INFO.
type symbolInfo struct {
	SizeOfStruct uint32
	TypeIndex    uint32
	Reserved     [2]uint64
	Index        uint32
	Size         uint32
	ModBase      uint64
	Flags        uint32
	Value        uint64
	Address      uint64
	Register     uint32
	Scope        uint32
	Tag          uint32
	NameLen      uint32
	MaxNameLen   uint32
	Name         [1]byte
}

// Session is the process-wide DbgHelp session. DbgHelp is not thread-safe, so
// every query holds the session lock.
type Session struct {
	mu      sync.Mutex
	process windows.Handle
}

var (
	session     *Session
	sessionErr  error
	sessionOnce sync.Once
)

// Open initializes DbgHelp for the current process on first use and returns
// the shared session. The session lives until the process exits.
func Open() (*Session, error) {
	sessionOnce.Do(func() {
		process := windows.CurrentProcess()
		procSymSetOptions.Call(symoptUndname | symoptDeferredLoads | symoptLoadAnything)
		r1, _, e1 := syscall.SyscallN(procSymInitialize.Addr(), uintptr(process), 0, 1)
		if r1 == 0 {
			sessionErr = lastStatus("SymInitialize", e1)
			return
		}
		session = &Session{process: process}
		Logger().Debug("debug-information session opened")
	})
	return session, sessionErr
}

func lastStatus(op string, e1 syscall.Errno) error {
	return errors.Status(errors.PhaseSymbols, op, uint32(e1))
}

func (s *Session) typeInfo(id TypeID, query uint32, out unsafe.Pointer) error {
	r1, _, e1 := syscall.SyscallN(procSymGetTypeInfo.Addr(),
		uintptr(s.process), uintptr(id.Module), uintptr(id.Index), uintptr(query), uintptr(out))
	if r1 == 0 {
		return lastStatus("SymGetTypeInfo", e1)
	}
	return nil
}

// TypeFromName implements Service.
func (s *Session) TypeFromName(base uint64, name string) (TypeID, error) {
	cname, err := windows.BytePtrFromString(name)
	if err != nil {
		return TypeID{}, errors.InvalidInput(errors.PhaseSymbols, err.Error())
	}
	info := symbolInfo{SizeOfStruct: uint32(unsafe.Sizeof(symbolInfo{}))}

	s.mu.Lock()
	defer s.mu.Unlock()
	r1, _, e1 := syscall.SyscallN(procSymGetTypeFromName.Addr(),
		uintptr(s.process), uintptr(base), uintptr(unsafe.Pointer(cname)), uintptr(unsafe.Pointer(&info)))
	if r1 == 0 {
		return TypeID{}, lastStatus("SymGetTypeFromName", e1)
	}
	return TypeID{Module: info.ModBase, Index: info.TypeIndex}, nil
}

// TypeLength implements Service.
func (s *Session) TypeLength(id TypeID) (uint64, error) {
	var length uint64
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.typeInfo(id, tiGetLength, unsafe.Pointer(&length)); err != nil {
		return 0, err
	}
	return length, nil
}

// Children implements Service.
func (s *Session) Children(id TypeID) ([]TypeID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count uint32
	if err := s.typeInfo(id, tiGetChildrenCount, unsafe.Pointer(&count)); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}

	// TI_FINDCHILDREN_PARAMS: Count, Start, ChildId[Count]
	params := make([]uint32, 2+count)
	params[0] = count
	if err := s.typeInfo(id, tiFindChildren, unsafe.Pointer(&params[0])); err != nil {
		return nil, err
	}

	out := make([]TypeID, 0, count)
	for _, child := range params[2:] {
		out = append(out, TypeID{Module: id.Module, Index: child})
	}
	return out, nil
}

// ChildOffset implements Service.
func (s *Session) ChildOffset(id TypeID) (uint32, error) {
	var offset uint32
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.typeInfo(id, tiGetOffset, unsafe.Pointer(&offset)); err != nil {
		return 0, err
	}
	return offset, nil
}

// ChildName implements Service.
func (s *Session) ChildName(id TypeID) (string, error) {
	var name *uint16
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.typeInfo(id, tiGetSymName, unsafe.Pointer(&name)); err != nil {
		return "", err
	}
	if name == nil {
		return "", errors.InvalidData(errors.PhaseSymbols, "member without name")
	}
	out := windows.UTF16PtrToString(name)
	if _, err := windows.LocalFree(windows.Handle(uintptr(unsafe.Pointer(name)))); err != nil {
		Logger().Debug("LocalFree of member name failed", zap.Error(err))
	}
	return out, nil
}

// FromName resolves a "module!symbol" name to its address.
func (s *Session) FromName(name string) (uintptr, error) {
	cname, err := windows.BytePtrFromString(name)
	if err != nil {
		return 0, errors.InvalidInput(errors.PhaseSymbols, err.Error())
	}

	// SYMBOL_INFO followed by room for the name.
	words := make([]uint64, (unsafe.Sizeof(symbolInfo{})+maxSymbolName+7)/8)
	info := (*symbolInfo)(unsafe.Pointer(&words[0]))
	info.SizeOfStruct = uint32(unsafe.Sizeof(symbolInfo{}))
	info.MaxNameLen = maxSymbolName

	s.mu.Lock()
	defer s.mu.Unlock()
	r1, _, e1 := syscall.SyscallN(procSymFromName.Addr(),
		uintptr(s.process), uintptr(unsafe.Pointer(cname)), uintptr(unsafe.Pointer(info)))
	if r1 == 0 {
		return 0, lastStatus("SymFromName", e1)
	}
	return uintptr(info.Address), nil
}
