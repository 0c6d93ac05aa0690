package kernelrt

import (
	"fmt"
	"strconv"

	lua "github.com/yuin/gopher-lua"
)

// ScalarValue is one picklable global captured by SnapshotScalars.
type ScalarValue struct {
	Kind  string // "string" | "number" | "boolean"
	Value string
}

// SnapshotScalars captures every string/number/boolean global currently
// bound in the namespace. Functions, tables, and resource-handle userdata
// are deliberately excluded: they have no closed representation, matching
// spec.md §9's cryo design note. The walk goes through the Lua API directly
// rather than an injected chunk (DESIGN.md's resolution of spec.md §9's
// cryo quoting open question), so values survive unchanged no matter what
// they contain.
func (ns *Namespace) SnapshotScalars() (map[string]ScalarValue, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	out := make(map[string]ScalarValue)
	ns.L.G.Global.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok || isReservedGlobal(string(name)) {
			return
		}
		switch v.Type() {
		case lua.LTString:
			out[string(name)] = ScalarValue{Kind: "string", Value: v.String()}
		case lua.LTNumber:
			out[string(name)] = ScalarValue{Kind: "number", Value: v.String()}
		case lua.LTBool:
			out[string(name)] = ScalarValue{Kind: "boolean", Value: v.String()}
		}
	})
	return out, nil
}

// RestoreScalars binds every captured scalar back into the namespace's
// globals directly through the Lua API -- never through a formatted source
// string, so no value (however it quotes or escapes) can break the restore.
func (ns *Namespace) RestoreScalars(values map[string]ScalarValue) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	for name, sv := range values {
		if isReservedGlobal(name) {
			continue
		}
		lv, err := sv.toLua()
		if err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
		ns.L.SetGlobal(name, lv)
	}
	return nil
}

func (sv ScalarValue) toLua() (lua.LValue, error) {
	switch sv.Kind {
	case "string":
		return lua.LString(sv.Value), nil
	case "number":
		f, err := strconv.ParseFloat(sv.Value, 64)
		if err != nil {
			return nil, err
		}
		return lua.LNumber(f), nil
	case "boolean":
		return lua.LBool(sv.Value == "true"), nil
	default:
		return nil, fmt.Errorf("unsupported scalar kind %q", sv.Kind)
	}
}

// reservedGlobals mirrors the names a Reset preserves (spec.md §3 "a
// reserved set {__name__, runtime, _shell_context}") plus the library
// tables gopher-lua's base/string/table/math/os/io openers install, none of
// which are picklable kernel state.
var reservedGlobals = map[string]bool{
	"__name__": true, "runtime": true, "_shell_context": true,
	"_G": true, "_VERSION": true,
	"print": true, "eprint": true,
	"string": true, "table": true, "math": true, "os": true, "io": true,
	"coroutine": true, "debug": true,
	"ipairs": true, "pairs": true, "next": true, "select": true,
	"pcall": true, "xpcall": true, "error": true, "assert": true,
	"tostring": true, "tonumber": true, "type": true,
	"setmetatable": true, "getmetatable": true,
	"rawget": true, "rawset": true, "rawequal": true, "rawlen": true,
	"unpack": true, "require": true, "collectgarbage": true,
	"load": true, "loadstring": true, "dofile": true, "loadfile": true,
	"module": true, "newproxy": true,
}

func isReservedGlobal(name string) bool { return reservedGlobals[name] }
