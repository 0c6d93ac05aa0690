package kernelrt

import (
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/loomkernel/loom/internal/resource"
	"github.com/loomkernel/loom/internal/retry"
)

const luaResourceHandleTypeName = "ResourceHandle"

// bindRuntime installs the `runtime` global table (resource handle factory,
// shell API) into a freshly created Lua state. It is the Go-native
// equivalent of core/kernel.py's module-level `runtime = RuntimeAPI()`.
func bindRuntime(L *lua.LState, registry *resource.Registry, shellCtx *ShellContext) {
	runtimeTable := L.NewTable()
	L.SetField(runtimeTable, "resource", L.NewFunction(resourceConstructor(registry)))
	L.SetField(runtimeTable, "shell", shellTable(L, shellCtx))
	L.SetGlobal("runtime", runtimeTable)
}

// shellTable builds the Lua `runtime.shell` table: cd/env mutate the shared
// ShellContext, run executes through it and returns {stdout, stderr,
// returncode}. The table has no resource entry; reconnectable handles
// (including SSH-style remote shells) come from runtime.resource.
func shellTable(L *lua.LState, ctx *ShellContext) *lua.LTable {
	t := L.NewTable()

	L.SetField(t, "cd", L.NewFunction(func(L *lua.LState) int {
		path := L.CheckString(1)
		ctx.SetCwd(path)
		return 0
	}))

	L.SetField(t, "env", L.NewFunction(func(L *lua.LState) int {
		key := L.CheckString(1)
		value := L.CheckString(2)
		ctx.SetEnv(key, value)
		return 0
	}))

	L.SetField(t, "run", L.NewFunction(func(L *lua.LState) int {
		command := L.CheckString(1)
		result := ctx.Run(command)

		out := L.NewTable()
		L.SetField(out, "stdout", lua.LString(result.Stdout))
		L.SetField(out, "stderr", lua.LString(result.Stderr))
		L.SetField(out, "returncode", lua.LNumber(result.ReturnCode))
		L.Push(out)
		return 1
	}))

	return t
}

func resourceConstructor(registry *resource.Registry) lua.LGFunction {
	return func(L *lua.LState) int {
		fn := L.CheckFunction(1)
		args := make([]lua.LValue, 0, L.GetTop()-1)
		for i := 2; i <= L.GetTop(); i++ {
			args = append(args, L.Get(i))
		}

		h := resource.NewHandle(newLuaFactory(L, fn, args))
		registry.Register(h)

		ud := L.NewUserData()
		ud.Value = &luaResourceHandle{L: L, handle: h}
		L.SetMetatable(ud, L.GetTypeMetatable(luaResourceHandleTypeName))
		L.Push(ud)
		return 1
	}
}

func newLuaFactory(L *lua.LState, fn lua.LValue, args []lua.LValue) resource.Factory {
	return func() (any, error) {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
			return nil, err
		}
		ret := L.Get(-1)
		L.Pop(1)
		return ret, nil
	}
}

type luaResourceHandle struct {
	L      *lua.LState
	handle *resource.Handle
}

func registerResourceHandleType(L *lua.LState) {
	mt := L.NewTypeMetatable(luaResourceHandleTypeName)
	L.SetField(mt, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on_connect": rhOnConnect,
		"validate":   rhValidate,
		"teardown":   rhTeardown,
		"retry":      rhRetry,
		"invalidate": rhInvalidate,
		"get":        rhGet,
	}))
}

func checkResourceHandle(L *lua.LState) *luaResourceHandle {
	ud := L.CheckUserData(1)
	h, ok := ud.Value.(*luaResourceHandle)
	if !ok {
		L.ArgError(1, "resource handle expected")
		return nil
	}
	return h
}

func rhOnConnect(L *lua.LState) int {
	h := checkResourceHandle(L)
	fn := L.CheckFunction(2)
	h.handle.OnConnect(func(conn any) error {
		lv, _ := conn.(lua.LValue)
		return h.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lv)
	})
	L.Push(L.Get(1))
	return 1
}

func rhValidate(L *lua.LState) int {
	h := checkResourceHandle(L)
	fn := L.CheckFunction(2)
	h.handle.WithValidate(func(conn any) bool {
		lv, _ := conn.(lua.LValue)
		if err := h.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lv); err != nil {
			return false
		}
		ret := h.L.Get(-1)
		h.L.Pop(1)
		return lua.LVAsBool(ret)
	})
	L.Push(L.Get(1))
	return 1
}

func rhTeardown(L *lua.LState) int {
	h := checkResourceHandle(L)
	fn := L.CheckFunction(2)
	h.handle.WithTeardown(func(conn any) {
		lv, _ := conn.(lua.LValue)
		_ = h.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lv)
	})
	L.Push(L.Get(1))
	return 1
}

func rhRetry(L *lua.LState) int {
	h := checkResourceHandle(L)
	opts := L.CheckTable(2)
	policy := retry.DefaultPolicy()

	if n, ok := opts.RawGetString("max_attempts").(lua.LNumber); ok {
		policy.MaxAttempts = int(n)
	}
	if n, ok := opts.RawGetString("base_delay_s").(lua.LNumber); ok {
		policy.BaseDelay = time.Duration(float64(n) * float64(time.Second))
	}
	if n, ok := opts.RawGetString("max_delay_s").(lua.LNumber); ok {
		policy.MaxDelay = time.Duration(float64(n) * float64(time.Second))
	}
	if n, ok := opts.RawGetString("backoff").(lua.LNumber); ok {
		policy.BackoffMul = float64(n)
	}
	if n, ok := opts.RawGetString("jitter").(lua.LNumber); ok {
		policy.JitterFraction = float64(n)
	}

	h.handle.WithRetry(policy)
	L.Push(L.Get(1))
	return 1
}

func rhInvalidate(L *lua.LState) int {
	h := checkResourceHandle(L)
	h.handle.Invalidate()
	return 0
}

func rhGet(L *lua.LState) int {
	h := checkResourceHandle(L)
	conn, err := h.handle.Acquire()
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	lv, ok := conn.(lua.LValue)
	if !ok {
		L.RaiseError("resource factory must return a Lua value")
		return 0
	}
	L.Push(lv)
	return 1
}
