package lua

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/kvlite/internal/kv"
	"github.com/dokzlo13/kvlite/internal/lua/modules"
)

// Runtime manages a Lua VM with the kv, log and utils modules preloaded.
// A Runtime is not safe for concurrent use.
type Runtime struct {
	L     *lua.LState
	store *kv.Store
}

// NewRuntime creates a new Lua runtime bound to store
func NewRuntime(store *kv.Store) *Runtime {
	r := &Runtime{
		L:     lua.NewState(),
		store: store,
	}

	r.registerModules()

	return r
}

// registerModules registers all Lua modules
func (r *Runtime) registerModules() {
	logModule := modules.NewLogModule()
	r.L.PreloadModule("log", logModule.Loader)

	kvModule := modules.NewKVModule(r.store)
	r.L.PreloadModule("kv", kvModule.Loader)

	utilsModule := modules.NewUtilsModule(nil)
	r.L.PreloadModule("utils", utilsModule.Loader)
}

// Run executes the script at path.
func (r *Runtime) Run(ctx context.Context, path string) error {
	log.Info().Str("path", path).Msg("Running Lua script")

	if err := r.exec(ctx, func() error { return r.L.DoFile(path) }); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Msg("Lua script finished")
	return nil
}

// DoString executes a Lua chunk.
func (r *Runtime) DoString(ctx context.Context, source string) error {
	return r.exec(ctx, func() error { return r.L.DoString(source) })
}

// exec runs fn with ctx attached to the LState so modules can reach it via
// L.Context(). Go panics raised from module code are turned into errors.
func (r *Runtime) exec(ctx context.Context, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Lua execution panicked")
			err = fmt.Errorf("lua panic: %v", rec)
		}
	}()

	r.L.SetContext(ctx)
	return fn()
}

// Close closes the Lua state. The store is left open.
func (r *Runtime) Close() {
	r.L.Close()
}
