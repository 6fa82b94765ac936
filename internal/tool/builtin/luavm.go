package builtin

import (
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// SandboxOptions bounds a Lua interpreter.
type SandboxOptions struct {
	CallStackSize int
	RegistrySize  int
}

var sandboxLibs = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// newSandbox returns an interpreter with only the pure libraries loaded.
// print and io.write go to stdout, warn goes to stderr. There is no file,
// OS or module loading access.
func newSandbox(opts SandboxOptions, stdout, stderr io.Writer) *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: opts.CallStackSize,
		RegistrySize:  opts.RegistrySize,
	})

	for _, lib := range sandboxLibs {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			panic(fmt.Sprintf("open lua library %q: %v", lib.name, err))
		}
	}

	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(writer(stdout, "\t", "\n")))
	L.SetGlobal("warn", L.NewFunction(writer(stderr, "", "\n")))

	ioTable := L.NewTable()
	L.SetField(ioTable, "write", L.NewFunction(writer(stdout, "", "")))
	L.SetGlobal("io", ioTable)

	return L
}

func writer(w io.Writer, sep, end string) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		fmt.Fprint(w, strings.Join(parts, sep)+end)
		return 0
	}
}
