package vtable

import (
	"testing"

	"github.com/wippyai/scriptbridge"
	"github.com/wippyai/scriptbridge/simhost"
)

const testEntries = 7

func sourceTable(t *testing.T, a *simhost.Arena) uintptr {
	t.Helper()
	base := a.Map((testEntries + 1) * scriptbridge.PtrSize)
	words := []uintptr{0xc0c0}
	for i := 0; i < testEntries; i++ {
		words = append(words, 0x1000+uintptr(i))
	}
	if err := scriptbridge.WritePtrs(a, base, words); err != nil {
		t.Fatalf("write table: %v", err)
	}
	return base + scriptbridge.PtrSize
}

func TestBuild_ReplacesOneSlot(t *testing.T) {
	a := simhost.NewArena()
	table := sourceTable(t, a)

	tmpl, err := Build(a, table, testEntries, 3, 0xbeef)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < testEntries; i++ {
		want := 0x1000 + uintptr(i)
		if i == 3 {
			want = 0xbeef
		}
		if got := tmpl.Entry(i); got != want {
			t.Errorf("entry %d = %#x, want %#x", i, got, want)
		}
	}
}

func TestBuild_InvalidArguments(t *testing.T) {
	a := simhost.NewArena()
	table := sourceTable(t, a)

	tests := []struct {
		name    string
		table   uintptr
		entries int
		slot    int
		tramp   uintptr
	}{
		{"nil table", 0, testEntries, 3, 0xbeef},
		{"slot past end", table, testEntries, testEntries, 0xbeef},
		{"negative slot", table, testEntries, -1, 0xbeef},
		{"no entries", table, 0, 0, 0xbeef},
		{"nil trampoline", table, testEntries, 3, 0},
		{"unmapped table", 0x10, testEntries, 3, 0xbeef},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(a, tt.table, tt.entries, tt.slot, tt.tramp); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInstance_Layout(t *testing.T) {
	a := simhost.NewArena()
	tmpl, err := Build(a, sourceTable(t, a), testEntries, 3, 0xbeef)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	inst, err := tmpl.Instantiate(a, a, 0x5151)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	vptr := inst.VPtr()

	header, _ := scriptbridge.ReadPtr(a, vptr-scriptbridge.PtrSize)
	if header != 0xc0c0 {
		t.Errorf("header = %#x, want 0xc0c0", header)
	}
	slot3, _ := scriptbridge.ReadPtr(a, vptr+3*scriptbridge.PtrSize)
	if slot3 != 0xbeef {
		t.Errorf("slot 3 = %#x", slot3)
	}
	ctx, err := ReadContext(a, vptr, testEntries)
	if err != nil || ctx != 0x5151 {
		t.Errorf("context = %#x, %v", ctx, err)
	}

	other, err := tmpl.Instantiate(a, a, 0x6262)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if ctx, _ := ReadContext(a, vptr, testEntries); ctx != 0x5151 {
		t.Error("instances must not share the context slot")
	}

	if err := inst.Clear(a); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if ctx, _ := ReadContext(a, vptr, testEntries); ctx != 0 {
		t.Errorf("context after clear = %#x", ctx)
	}
	if ctx, _ := ReadContext(a, other.VPtr(), testEntries); ctx != 0x6262 {
		t.Errorf("other context = %#x", ctx)
	}

	inst.Free()
	other.Free()
	if a.Live() != 0 {
		t.Errorf("live blocks = %d", a.Live())
	}
}

func TestRetired_FreesPastLimit(t *testing.T) {
	a := simhost.NewArena()
	tmpl, err := Build(a, sourceTable(t, a), testEntries, 3, 0xbeef)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	r := NewRetired(2)
	for i := 0; i < 5; i++ {
		inst, err := tmpl.Instantiate(a, a, uintptr(i+1))
		if err != nil {
			t.Fatalf("Instantiate: %v", err)
		}
		r.Retire(inst)
	}
	if r.Len() != 2 || a.Live() != 2 {
		t.Errorf("held %d, live %d; want 2, 2", r.Len(), a.Live())
	}

	r.Drain()
	if r.Len() != 0 || a.Live() != 0 {
		t.Errorf("after drain held %d, live %d", r.Len(), a.Live())
	}
}
