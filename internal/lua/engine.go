// Package lua runs blecon scripts: a Lua state with captured print output and
// a "ble" table bound to the connection commands.
package lua

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/internal/ringchan"
)

const (
	SourceStdout = "stdout"
	SourceStderr = "stderr"

	outputBuffer = 1024
)

// OutputRecord is one chunk of script output.
type OutputRecord struct {
	Content   string
	Timestamp time.Time
	Source    string
}

// LuaError represents detailed Lua execution errors
type LuaError struct {
	Type    string // "syntax", "runtime", "api"
	Message string
	Line    int
	Source  string
}

func (e *LuaError) Error() string {
	var parts []string
	if e.Source != "" {
		parts = append(parts, "in "+e.Source)
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Lua %s error: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("Lua %s error (%s): %s", e.Type, strings.Join(parts, ", "), e.Message)
}

// Is matches any LuaError of the same type.
func (e *LuaError) Is(target error) bool {
	var luaErr *LuaError
	if errors.As(target, &luaErr) {
		return e.Type == luaErr.Type
	}
	return false
}

var (
	ErrSyntax  = &LuaError{Type: "syntax"}
	ErrRuntime = &LuaError{Type: "runtime"}
	ErrAPI     = &LuaError{Type: "api"}
)

// Engine owns a Lua state. All access to the state is serialized.
type Engine struct {
	mu     sync.Mutex
	state  *lua.State
	logger *logrus.Logger
	output *ringchan.RingChannel[OutputRecord]
}

func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		logger: logger,
		output: ringchan.New[OutputRecord](outputBuffer),
	}

	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrint()
	return e
}

// Output is the feed of captured print output. It is closed by Close.
func (e *Engine) Output() <-chan OutputRecord {
	return e.output.C()
}

// Emit writes a record to the output feed.
func (e *Engine) Emit(source, content string) {
	if e.output.Send(OutputRecord{Content: content, Timestamp: time.Now(), Source: source}) {
		e.logger.Debug("Lua output buffer full, oldest record dropped")
	}
}

// Do runs fn with exclusive access to the Lua state.
func (e *Engine) Do(fn func(L *lua.State)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		fn(e.state)
	}
}

func (e *Engine) registerPrint() {
	e.state.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, toDisplayString(L, i))
		}
		e.Emit(SourceStdout, strings.Join(parts, "\t")+"\n")
		return 0
	})
	e.state.SetGlobal("print")
}

func toDisplayString(L *lua.State, i int) string {
	switch {
	case L.IsNil(i):
		return "nil"
	case L.IsBoolean(i):
		if L.ToBoolean(i) {
			return "true"
		}
		return "false"
	case L.IsNumber(i), L.IsString(i):
		return L.ToString(i)
	default:
		L.GetGlobal("tostring")
		L.PushValue(i)
		L.Call(1, 1)
		s := L.ToString(-1)
		L.Pop(1)
		return s
	}
}

// SetArgs publishes script arguments as the global "arg" table.
func (e *Engine) SetArgs(args map[string]string) {
	e.Do(func(L *lua.State) {
		L.NewTable()
		for k, v := range args {
			L.PushString(k)
			L.PushString(v)
			L.SetTable(-3)
		}
		L.SetGlobal("arg")
	})
}

// Execute compiles and runs script. name is used in error messages.
func (e *Engine) Execute(script, name string) error {
	if strings.TrimSpace(script) == "" {
		return &LuaError{Type: "api", Message: "empty script", Source: name}
	}

	var execErr error
	e.Do(func(L *lua.State) {
		if status := L.LoadString(script); status != 0 {
			execErr = e.popError(L, "syntax", name)
			return
		}
		if err := L.Call(0, 0); err != nil {
			execErr = e.parseError("runtime", name, err.Error())
		}
	})

	if execErr != nil {
		e.Emit(SourceStderr, execErr.Error())
		e.logger.WithError(execErr).WithField("script", name).Debug("Lua script failed")
	}
	return execErr
}

// ExecuteFile runs a script file.
func (e *Engine) ExecuteFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", path, err)
	}
	return e.Execute(string(content), path)
}

func (e *Engine) popError(L *lua.State, errType, source string) *LuaError {
	msg := "unknown Lua error"
	if L.GetTop() > 0 {
		if L.IsString(-1) {
			msg = L.ToString(-1)
		}
		L.Pop(1)
	}
	return e.parseError(errType, source, msg)
}

// parseError extracts the line number from messages like `[string "..."]:3: boom`.
func (e *Engine) parseError(errType, source, msg string) *LuaError {
	first := strings.SplitN(msg, "\n", 2)[0]
	luaErr := &LuaError{Type: errType, Message: first, Source: source}

	if i := strings.Index(first, "]:"); i >= 0 {
		rest := first[i+2:]
		var line int
		if n, err := fmt.Sscanf(rest, "%d:", &line); err == nil && n == 1 {
			luaErr.Line = line
			if j := strings.Index(rest, ":"); j >= 0 {
				luaErr.Message = strings.TrimSpace(rest[j+1:])
			}
		}
	}
	return luaErr
}

// Close releases the Lua state and closes the output feed.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
	e.output.Close()
}
