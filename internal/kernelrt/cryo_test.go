package kernelrt

import "testing"

func TestSnapshotScalarsCapturesStringNumberBool(t *testing.T) {
	ns := newTestNamespace()
	ns.Exec(`name = "loom"
count = 7
active = true`)

	globals, err := ns.SnapshotScalars()
	if err != nil {
		t.Fatalf("SnapshotScalars: %v", err)
	}

	want := map[string]ScalarValue{
		"name":   {Kind: "string", Value: "loom"},
		"count":  {Kind: "number", Value: "7"},
		"active": {Kind: "boolean", Value: "true"},
	}
	for k, w := range want {
		got, ok := globals[k]
		if !ok {
			t.Fatalf("missing global %q in snapshot: %+v", k, globals)
		}
		if got != w {
			t.Fatalf("global %q = %+v, want %+v", k, got, w)
		}
	}
}

func TestSnapshotScalarsExcludesReservedAndNonScalarGlobals(t *testing.T) {
	ns := newTestNamespace()
	ns.Exec(`t = {1, 2, 3}`)

	globals, err := ns.SnapshotScalars()
	if err != nil {
		t.Fatalf("SnapshotScalars: %v", err)
	}
	if _, ok := globals["t"]; ok {
		t.Fatalf("expected table global 't' to be excluded from scalar snapshot")
	}
	if _, ok := globals["runtime"]; ok {
		t.Fatalf("expected reserved global 'runtime' to be excluded")
	}
	if _, ok := globals["print"]; ok {
		t.Fatalf("expected builtin 'print' to be excluded")
	}
}

func TestRestoreScalarsRoundTrip(t *testing.T) {
	ns := newTestNamespace()
	ns.Exec(`name = "before"
count = 1`)

	snapshot, err := ns.SnapshotScalars()
	if err != nil {
		t.Fatalf("SnapshotScalars: %v", err)
	}

	ns.Reset()
	r := ns.Exec(`print(name)`)
	if got := r.Stdout; got != "nil\n" {
		t.Fatalf("expected name to be gone after reset, got %q", got)
	}

	if err := ns.RestoreScalars(snapshot); err != nil {
		t.Fatalf("RestoreScalars: %v", err)
	}
	r = ns.Exec(`print(name, count)`)
	if r.Status != "completed" {
		t.Fatalf("exec after restore failed: %+v", r)
	}
	if r.Stdout != "before\t1\n" {
		t.Fatalf("expected restored globals 'before' and 1, got %q", r.Stdout)
	}
}

func TestRestoreScalarsSkipsReservedNames(t *testing.T) {
	ns := newTestNamespace()
	err := ns.RestoreScalars(map[string]ScalarValue{
		"runtime": {Kind: "string", Value: "evil"},
		"ok":      {Kind: "string", Value: "fine"},
	})
	if err != nil {
		t.Fatalf("RestoreScalars: %v", err)
	}
	r := ns.Exec(`print(type(runtime), ok)`)
	if r.Status != "completed" {
		t.Fatalf("exec failed: %+v", r)
	}
	if r.Stdout != "table\tfine\n" {
		t.Fatalf("expected runtime to remain a table and ok to be restored, got %q", r.Stdout)
	}
}

func TestRestoreScalarsRejectsUnsupportedKind(t *testing.T) {
	ns := newTestNamespace()
	err := ns.RestoreScalars(map[string]ScalarValue{"x": {Kind: "table", Value: "{}"}})
	if err == nil {
		t.Fatal("expected error restoring an unsupported scalar kind")
	}
}
