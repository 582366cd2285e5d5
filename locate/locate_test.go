package locate

import (
	"encoding/binary"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/scriptbridge/errors"
	"github.com/wippyai/scriptbridge/simhost"
)

// image lays out a minimal PE32+ header with an export directory naming
// Alpha, Forwarded and Gamma.
func image(t *testing.T, a *simhost.Arena) uintptr {
	t.Helper()
	raw := make([]byte, 0x1000)
	le := binary.LittleEndian
	raw[0], raw[1] = 'M', 'Z'
	le.PutUint32(raw[dosLfanew:], 0x80)
	copy(raw[0x80:], "PE\x00\x00")
	opt := 0x80 + optHeaderOffset
	le.PutUint16(raw[opt:], magicPE32Plus)
	le.PutUint32(raw[opt+dataDirPE32Plus:], 0x200)
	le.PutUint32(raw[opt+dataDirPE32Plus+4:], 0x100)

	le.PutUint32(raw[0x200+exportNumNames:], 3)
	le.PutUint32(raw[0x200+exportFunctions:], 0x300)
	le.PutUint32(raw[0x200+exportNames:], 0x320)
	le.PutUint32(raw[0x200+exportOrdinals:], 0x340)

	funcs := []uint32{0x1100, 0x250, 0x1200}
	names := []uint32{0x380, 0x390, 0x3a0}
	for i := range funcs {
		le.PutUint32(raw[0x300+4*i:], funcs[i])
		le.PutUint32(raw[0x320+4*i:], names[i])
		le.PutUint16(raw[0x340+2*i:], uint16(i))
	}
	copy(raw[0x380:], "Alpha\x00")
	copy(raw[0x390:], "Forwarded\x00")
	copy(raw[0x3a0:], "Gamma\x00")
	copy(raw[0x250:], "other.Function\x00")

	base := a.Map(uintptr(len(raw)))
	if err := a.Write(base, raw); err != nil {
		t.Fatal(err)
	}
	return base
}

func TestExports_Locate(t *testing.T) {
	a := simhost.NewArena()
	base := image(t, a)
	x := NewExports(a)
	x.Add("UCRTBase.dll", base)

	tests := []struct {
		module string
		symbol string
		want   uintptr
		ok     bool
	}{
		{"ucrtbase", "Alpha", base + 0x1100, true},
		{"UCRTBASE.DLL", "Gamma", base + 0x1200, true},
		{"ucrtbase", "Forwarded", 0, false},
		{"ucrtbase", "alpha", 0, false},
		{"kernel32", "Alpha", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.module+"!"+tt.symbol, func(t *testing.T) {
			got, err := x.Locate(tt.module, tt.symbol)
			if tt.ok {
				if err != nil || got != tt.want {
					t.Errorf("Locate = %#x, %v; want %#x", got, err, tt.want)
				}
				return
			}
			if !stderrors.Is(err, errors.NotFound(errors.PhaseLocate, "symbol", "")) {
				t.Errorf("error = %v", err)
			}
			if !strings.Contains(err.Error(), tt.symbol) {
				t.Errorf("error %q does not name %q", err, tt.symbol)
			}
		})
	}
}

func TestExports_RejectsBadImage(t *testing.T) {
	a := simhost.NewArena()
	base := a.Map(0x100)
	_ = a.Write(base, []byte("XX"))
	x := NewExports(a)
	x.Add("bad", base)

	_, err := x.Locate("bad", "Alpha")
	if !stderrors.Is(err, errors.InvalidData(errors.PhaseLocate, "")) {
		t.Errorf("error = %v", err)
	}
}

func TestChain(t *testing.T) {
	miss := Func(func(module, symbol string) (uintptr, error) {
		return 0, notFound(module, symbol, nil)
	})
	hit := Func(func(string, string) (uintptr, error) { return 0x1234, nil })

	tests := []struct {
		name  string
		chain Chain
		want  uintptr
		fails bool
	}{
		{"first hit", Chain{hit, miss}, 0x1234, false},
		{"fallback", Chain{miss, hit}, 0x1234, false},
		{"all miss", Chain{miss, miss}, 0, true},
		{"empty", Chain{}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.chain.Locate("Clonk", "Game")
			if (err != nil) != tt.fails || got != tt.want {
				t.Errorf("Locate = %#x, %v", got, err)
			}
			if err != nil && !strings.Contains(err.Error(), "Clonk.Game") {
				t.Errorf("error %q does not name the symbol", err)
			}
		})
	}
}
