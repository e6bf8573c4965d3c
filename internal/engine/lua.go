package engine

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/Shopify/go-lua"

	"github.com/loomworks/loom/pkg/api"
)

type (
	// LuaEnv provides a sandboxed Lua execution environment with state
	// pooling for condition and transform evaluation. Scripts receive the
	// current variable bindings as a single `vars` table
	LuaEnv struct {
		statePool chan *lua.State
		scripts   sync.Map
	}

	// compiledLua is a compiled Lua chunk
	compiledLua struct {
		bytecode []byte
	}
)

const (
	luaStatePoolSize    = 10
	luaGlobalTableIndex = -2
	luaArrayTableIndex  = -3
	luaMapTableIndex    = -3
	luaGlobalTableName  = "_G"
	luaVarsPrelude      = "local vars = select(1, ...)\n"
)

var (
	ErrLuaLoad      = errors.New("lua load error")
	ErrLuaExecution = errors.New("lua execution error")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

// NewLuaEnv creates a new Lua environment with a state pool for chunk
// reuse
func NewLuaEnv() *LuaEnv {
	return &LuaEnv{
		statePool: make(chan *lua.State, luaStatePoolSize),
	}
}

// EvalPredicate evaluates an expression against the bindings and returns
// its truthiness
func (e *LuaEnv) EvalPredicate(expr string, vars api.Args) (bool, error) {
	src := luaVarsPrelude + "return (" + expr + ")"
	c, err := e.compileCached(src)
	if err != nil {
		return false, err
	}

	L := e.getState()
	defer e.returnState(L)

	if err := e.loadChunk(L, c); err != nil {
		return false, err
	}
	pushLuaMap(L, normalizeArgs(vars))

	if err := L.ProtectedCall(1, 1, 0); err != nil {
		return false, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}

	result := L.ToBoolean(-1)
	L.Pop(1)
	return result, nil
}

// EvalScript runs a transform script against the bindings and returns
// its result value
func (e *LuaEnv) EvalScript(script string, vars api.Args) (any, error) {
	src := luaVarsPrelude + script
	c, err := e.compileCached(src)
	if err != nil {
		return nil, err
	}

	L := e.getState()
	defer e.returnState(L)

	if err := e.loadChunk(L, c); err != nil {
		return nil, err
	}
	pushLuaMap(L, normalizeArgs(vars))

	if err := L.ProtectedCall(1, 1, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaExecution, err)
	}

	result := luaToGo(L, -1)
	L.Pop(1)
	return result, nil
}

// Validate checks if a script is syntactically correct without running it
func (e *LuaEnv) Validate(script string) error {
	_, err := e.compileCached(luaVarsPrelude + script)
	return err
}

func (e *LuaEnv) compileCached(src string) (*compiledLua, error) {
	if val, ok := e.scripts.Load(src); ok {
		return val.(*compiledLua), nil
	}

	c, err := e.compile(src)
	if err != nil {
		return nil, err
	}
	e.scripts.Store(src, c)
	return c, nil
}

func (e *LuaEnv) compile(src string) (*compiledLua, error) {
	L := lua.NewState()
	e.setupSandbox(L)

	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}

	return &compiledLua{bytecode: buf.Bytes()}, nil
}

func (e *LuaEnv) loadChunk(L *lua.State, c *compiledLua) error {
	e.setupSandbox(L)
	if err := L.Load(bytes.NewReader(c.bytecode), "chunk", "b"); err != nil {
		return fmt.Errorf("%w: %w", ErrLuaLoad, err)
	}
	return nil
}

func (e *LuaEnv) setupSandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(luaGlobalTableIndex, name)
	}
	L.Pop(1)
}

func (e *LuaEnv) getState() *lua.State {
	select {
	case L := <-e.statePool:
		return L
	default:
		return lua.NewState()
	}
}

func (e *LuaEnv) returnState(L *lua.State) {
	L.SetTop(0)

	select {
	case e.statePool <- L:
	default:
	}
}

func normalizeArgs(vars api.Args) map[string]any {
	res := make(map[string]any, len(vars))
	for k, v := range vars {
		res[string(k)] = v
	}
	return res
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case []any:
		pushLuaArray(L, v)
	case map[string]any:
		pushLuaMap(L, v)
	case api.Args:
		pushLuaMap(L, normalizeArgs(v))
	case nil:
		L.PushNil()
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func pushLuaArray(L *lua.State, arr []any) {
	L.CreateTable(len(arr), 0)
	for i, item := range arr {
		L.PushInteger(i + 1)
		goToLua(L, item)
		L.SetTable(luaArrayTableIndex)
	}
}

func pushLuaMap(L *lua.State, m map[string]any) {
	L.CreateTable(0, len(m))
	for k, val := range m {
		L.PushString(k)
		goToLua(L, val)
		L.SetTable(luaMapTableIndex)
	}
}

func luaNumberToGo(L *lua.State, index int) any {
	num, _ := L.ToNumber(index)
	if num == float64(int(num)) {
		return int(num)
	}
	return num
}

func luaToGo(L *lua.State, index int) any {
	switch {
	case L.IsNil(index):
		return nil
	case L.IsBoolean(index):
		return L.ToBoolean(index)
	case L.IsNumber(index):
		return luaNumberToGo(L, index)
	case L.IsString(index):
		s, _ := L.ToString(index)
		return s
	case L.IsTable(index):
		return luaTableToAny(L, index)
	default:
		return nil
	}
}

func luaTableToAny(L *lua.State, index int) any {
	isArray := true
	length := 0

	L.PushNil()
	for L.Next(index - 1) {
		if !L.IsNumber(-2) {
			isArray = false
			L.Pop(1)
			break
		}
		length++
		L.Pop(1)
	}

	if isArray && length > 0 {
		return convertLuaArray(L, index, length)
	}

	result := map[string]any{}
	L.PushNil()
	for L.Next(index - 1) {
		var key string
		if !L.IsString(-2) {
			key = fmt.Sprintf("%v", luaToGo(L, -2))
			result[key] = luaToGo(L, -1)
			L.Pop(1)
			continue
		}
		key, _ = L.ToString(-2)
		result[key] = luaToGo(L, -1)
		L.Pop(1)
	}

	return result
}

func convertLuaArray(L *lua.State, index, length int) []any {
	arr := make([]any, length)
	absIndex := index
	if index < 0 {
		absIndex = L.Top() + index + 1
	}
	for i := 1; i <= length; i++ {
		L.RawGetInt(absIndex, i)
		arr[i-1] = luaToGo(L, -1)
		L.Pop(1)
	}
	return arr
}
