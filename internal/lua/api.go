package lua

import (
	"context"
	"fmt"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecon/pkg/codec"
	"github.com/srg/blecon/pkg/connection"
)

// Commander is the command surface scripts drive. *connection.Manager implements it.
type Commander interface {
	Connect(ctx context.Context, name string) (connection.ConnectResult, error)
	Close(ctx context.Context) error
	OpenService(ctx context.Context, name string) (connection.ServiceStatus, error)
	ReadCharacteristic(ctx context.Context, spec string) (string, error)
	WriteCharacteristic(ctx context.Context, service, characteristic, data string) (connection.WriteResult, error)
	Subscribe(ctx context.Context, spec string) error
	Unsubscribe(ctx context.Context, spec string) error
	WaitNotification(ctx context.Context, timeout time.Duration) (connection.Notification, error)
	SetDisplayFormat(f codec.DataFormat)
	DisplayFormat() codec.DataFormat
	SetTimeout(seconds int) time.Duration
	Timeout() time.Duration
	Status() connection.Status
	ListDeviceNames() []string
	Services() []connection.Attribute
	Characteristics() []connection.Attribute
	Delay(ctx context.Context, d time.Duration) error
}

var _ Commander = (*connection.Manager)(nil)

// BLEAPI binds a Commander to the global "ble" table of an Engine.
//
// Functions that fail return nil plus an error message. Interruption of the
// surrounding context raises a Lua error so the script unwinds.
type BLEAPI struct {
	engine *Engine
	cmd    Commander
	logger *logrus.Logger
	ctx    context.Context
}

func NewBLEAPI(engine *Engine, cmd Commander, logger *logrus.Logger) *BLEAPI {
	if logger == nil {
		logger = logrus.New()
	}
	api := &BLEAPI{
		engine: engine,
		cmd:    cmd,
		logger: logger,
		ctx:    context.Background(),
	}
	api.register()
	return api
}

// Execute runs script with ctx governing every command it issues.
func (api *BLEAPI) Execute(ctx context.Context, script, name string) error {
	api.ctx = ctx
	defer func() { api.ctx = context.Background() }()

	err := api.engine.Execute(script, name)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (api *BLEAPI) register() {
	api.engine.Do(func(L *lua.State) {
		L.NewTable()

		api.pushFunction(L, "connect", api.connect)
		api.pushFunction(L, "close", api.close)
		api.pushFunction(L, "open", api.open)
		api.pushFunction(L, "services", api.services)
		api.pushFunction(L, "characteristics", api.characteristics)
		api.pushFunction(L, "read", api.read)
		api.pushFunction(L, "write", api.write)
		api.pushFunction(L, "subscribe", api.subscribe)
		api.pushFunction(L, "unsubscribe", api.unsubscribe)
		api.pushFunction(L, "wait", api.wait)
		api.pushFunction(L, "format", api.format)
		api.pushFunction(L, "timeout", api.timeout)
		api.pushFunction(L, "status", api.status)
		api.pushFunction(L, "devices", api.devices)
		api.pushFunction(L, "sleep", api.sleep)

		L.SetGlobal("ble")
	})
}

// pushFunction adds name=fn to the table on top of the stack. Go panics inside
// fn surface as Lua errors instead of crashing the process.
func (api *BLEAPI) pushFunction(L *lua.State, name string, fn func(*lua.State) int) {
	qualified := "ble." + name + "()"

	L.PushString(name)
	L.PushGoFunction(func(L *lua.State) int {
		if err := api.ctx.Err(); err != nil {
			L.RaiseError(fmt.Sprintf("%s: interrupted: %v", qualified, err))
			return 0
		}
		n, err := api.protect(L, qualified, fn)
		if err != nil {
			L.RaiseError(err.Error())
			return 0
		}
		return n
	})
	L.SetTable(-3)
}

func (api *BLEAPI) protect(L *lua.State, name string, fn func(*lua.State) int) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			if luaErr, ok := r.(*lua.LuaError); ok {
				// raised on purpose by fn
				panic(luaErr)
			}
			api.logger.WithFields(logrus.Fields{"function": name, "panic": r}).Error("Lua API function panicked")
			err = fmt.Errorf("%s: internal error: %v", name, r)
		}
	}()
	return fn(L), nil
}

// fail pushes the Lua failure convention: nil, message.
func fail(L *lua.State, err error) int {
	L.PushNil()
	L.PushString(err.Error())
	return 2
}

func checkString(L *lua.State, idx int, fn string) (string, error) {
	if L.GetTop() < idx || !L.IsString(idx) {
		return "", fmt.Errorf("%s expects a string argument #%d", fn, idx)
	}
	return L.ToString(idx), nil
}

func optString(L *lua.State, idx int) string {
	if L.GetTop() < idx || !L.IsString(idx) {
		return ""
	}
	return L.ToString(idx)
}

func pushStrings(L *lua.State, values []string) {
	L.NewTable()
	for i, v := range values {
		L.PushInteger(int64(i + 1))
		L.PushString(v)
		L.SetTable(-3)
	}
}

func pushAttributes(L *lua.State, attrs []connection.Attribute) {
	L.NewTable()
	for i, a := range attrs {
		L.PushInteger(int64(i + 1))
		L.NewTable()
		L.PushString("name")
		L.PushString(a.DisplayName)
		L.SetTable(-3)
		L.PushString("uuid")
		L.PushString(a.UUID)
		L.SetTable(-3)
		L.PushString("properties")
		L.PushString(a.Properties.String())
		L.SetTable(-3)
		L.SetTable(-3)
	}
}

func (api *BLEAPI) connect(L *lua.State) int {
	name := optString(L, 1)
	result, err := api.cmd.Connect(api.ctx, name)
	if err != nil {
		return fail(L, err)
	}
	L.PushString(result.String())
	return 1
}

func (api *BLEAPI) close(L *lua.State) int {
	if err := api.cmd.Close(api.ctx); err != nil {
		return fail(L, err)
	}
	L.PushBoolean(true)
	return 1
}

func (api *BLEAPI) open(L *lua.State) int {
	name, err := checkString(L, 1, "ble.open(service)")
	if err != nil {
		return fail(L, err)
	}
	status, err := api.cmd.OpenService(api.ctx, name)
	if err != nil {
		return fail(L, err)
	}
	if status == connection.ServiceEmpty {
		L.PushString("empty")
	} else {
		L.PushString("opened")
	}
	return 1
}

func (api *BLEAPI) services(L *lua.State) int {
	pushAttributes(L, api.cmd.Services())
	return 1
}

func (api *BLEAPI) characteristics(L *lua.State) int {
	pushAttributes(L, api.cmd.Characteristics())
	return 1
}

// read accepts "service/char", "char" or two arguments (service, char).
func (api *BLEAPI) read(L *lua.State) int {
	spec, err := checkString(L, 1, "ble.read(characteristic)")
	if err != nil {
		return fail(L, err)
	}
	if char := optString(L, 2); char != "" {
		spec = spec + "/" + char
	}
	value, err := api.cmd.ReadCharacteristic(api.ctx, spec)
	if err != nil {
		return fail(L, err)
	}
	L.PushString(value)
	return 1
}

// write(service, char, data). An empty service uses the open service.
func (api *BLEAPI) write(L *lua.State) int {
	if L.GetTop() < 3 {
		return fail(L, fmt.Errorf("ble.write(service, characteristic, data) expects three arguments"))
	}
	service := optString(L, 1)
	char := optString(L, 2)
	data := optString(L, 3)

	result, err := api.cmd.WriteCharacteristic(api.ctx, service, char, data)
	if err != nil {
		return fail(L, err)
	}
	if result != connection.WriteSuccess {
		return fail(L, fmt.Errorf("write %s", result))
	}
	L.PushBoolean(true)
	return 1
}

func (api *BLEAPI) subscribe(L *lua.State) int {
	spec, err := checkString(L, 1, "ble.subscribe(characteristic)")
	if err != nil {
		return fail(L, err)
	}
	if err := api.cmd.Subscribe(api.ctx, spec); err != nil {
		return fail(L, err)
	}
	L.PushBoolean(true)
	return 1
}

func (api *BLEAPI) unsubscribe(L *lua.State) int {
	spec := optString(L, 1)
	if spec == "" {
		spec = "all"
	}
	if err := api.cmd.Unsubscribe(api.ctx, spec); err != nil {
		return fail(L, err)
	}
	L.PushBoolean(true)
	return 1
}

// wait(seconds) returns {characteristic=, uuid=, value=} for the next notification.
func (api *BLEAPI) wait(L *lua.State) int {
	timeout := api.cmd.Timeout()
	if L.GetTop() >= 1 && L.IsNumber(1) {
		timeout = time.Duration(L.ToNumber(1) * float64(time.Second))
	}

	n, err := api.cmd.WaitNotification(api.ctx, timeout)
	if err != nil {
		if api.ctx.Err() != nil {
			L.RaiseError(fmt.Sprintf("ble.wait(): interrupted: %v", api.ctx.Err()))
			return 0
		}
		return fail(L, err)
	}

	L.NewTable()
	L.PushString("characteristic")
	L.PushString(n.Characteristic)
	L.SetTable(-3)
	L.PushString("uuid")
	L.PushString(n.UUID)
	L.SetTable(-3)
	L.PushString("value")
	L.PushString(n.Text)
	L.SetTable(-3)
	return 1
}

// format([name]) sets the display format when given one and returns the current format.
func (api *BLEAPI) format(L *lua.State) int {
	if name := optString(L, 1); name != "" {
		f, err := codec.ParseDataFormat(name)
		if err != nil {
			return fail(L, err)
		}
		api.cmd.SetDisplayFormat(f)
	}
	L.PushString(api.cmd.DisplayFormat().String())
	return 1
}

// timeout([seconds]) sets the command timeout when given one and returns the effective seconds.
func (api *BLEAPI) timeout(L *lua.State) int {
	if L.GetTop() >= 1 && L.IsNumber(1) {
		api.cmd.SetTimeout(int(L.ToInteger(1)))
	}
	L.PushInteger(int64(api.cmd.Timeout() / time.Second))
	return 1
}

func (api *BLEAPI) status(L *lua.State) int {
	L.PushString(api.cmd.Status().String())
	return 1
}

func (api *BLEAPI) devices(L *lua.State) int {
	pushStrings(L, api.cmd.ListDeviceNames())
	return 1
}

func (api *BLEAPI) sleep(L *lua.State) int {
	if L.GetTop() < 1 || !L.IsNumber(1) {
		return fail(L, fmt.Errorf("ble.sleep(ms) expects a number"))
	}
	d := time.Duration(L.ToInteger(1)) * time.Millisecond
	if err := api.cmd.Delay(api.ctx, d); err != nil {
		L.RaiseError(fmt.Sprintf("ble.sleep(): interrupted: %v", err))
		return 0
	}
	L.PushBoolean(true)
	return 1
}
