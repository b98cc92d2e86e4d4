// Copyright (C) 2022 K2 Cyber Security Inc.

package lochook

import (
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/k2io/lochook/internal/arch"
	"github.com/k2io/lochook/internal/barrier"
	"github.com/k2io/lochook/internal/config"
	"github.com/k2io/lochook/internal/plog"
	"github.com/k2io/lochook/internal/status"
	"github.com/k2io/lochook/internal/stub"
)

// Bounds shared by every engine.
const (
	// MaxHookCount is the maximum number of hooks installed at once.
	MaxHookCount = config.MaxHookCount
	// MaxThreadCount is the maximum number of threads the barrier tracks.
	MaxThreadCount = config.MaxThreadCount
)

// Options configure an Engine. Zero values select the defaults.
type Options struct {
	// LogLevel is one of disabled, error, info or debug. Defaults to error.
	LogLevel string
	// LogOutput receives the log lines. Defaults to os.Stderr.
	LogOutput io.Writer
	// ErrorChan, when set, also receives the logged errors. Sends never
	// block.
	ErrorChan chan error
	// RemovalTimeout bounds the time WaitForPendingRemovals waits for
	// handlers to return. Defaults to one second.
	RemovalTimeout time.Duration
	// RemovalPollInterval is the period of the execution counter polling.
	// Defaults to 25ms.
	RemovalPollInterval time.Duration
	// Addressing is auto, relative32, near64 or absolute64.
	Addressing string
	// Identity is thread or process: what the ACLs list.
	Identity string
	// IntroThunk and OutroThunk are the native entry points called by the
	// hook stubs. They must forward to Engine.Intro and Engine.Outro. On
	// Windows they default to callbacks created by the package; elsewhere
	// hooks cannot be installed without them.
	IntroThunk uintptr
	OutroThunk uintptr
}

// Engine owns the hooks of a process: the hook list, the slot table, the
// removal list and the barrier.
type Engine struct {
	logger atomic.Pointer[plog.Logger]
	// level configured at creation, restored by SetDebug(false)
	level    plog.LogLevel
	logOut   io.Writer
	errChan  chan error
	mode     arch.Mode
	layout   stub.Layout
	unit     *barrier.Unit
	timeout  time.Duration
	interval time.Duration

	introThunk uintptr
	outroThunk uintptr

	// lock protects everything below. It is never held while a handler
	// runs.
	lock sync.Mutex
	// active hooks, newest first
	hooks []*hookRecord
	// uninstalled hooks whose memory is not released yet
	removals []*hookRecord
	// slot index to hook id, zero when free
	slots  [MaxHookCount]uint32
	nextID uint32
}

const firstHookID = 0x10000000

// New returns an engine configured from the environment and the optional
// lochook configuration file.
func New() (*Engine, error) {
	cfg, err := config.New(plog.NewLogger(plog.Error, os.Stderr, nil))
	if err != nil {
		return nil, err
	}
	return NewWithOptions(Options{
		LogLevel:            cfg.LogLevel().String(),
		RemovalTimeout:      cfg.RemovalTimeout(),
		RemovalPollInterval: cfg.RemovalPollInterval(),
		Addressing:          cfg.Addressing(),
		Identity:            cfg.Identity(),
	})
}

// NewWithOptions returns an engine configured by opts.
func NewWithOptions(opts Options) (*Engine, error) {
	mode, err := arch.Parse(opts.Addressing, runtime.GOARCH)
	if err != nil {
		return nil, err
	}
	var platform barrier.Platform
	switch opts.Identity {
	case "", config.IdentityThread:
		platform = barrier.ThreadPlatform()
	case config.IdentityProcess:
		platform = barrier.ProcessPlatform()
	default:
		return nil, status.Throwf(status.InvalidParameter, "unknown identity `%s`", opts.Identity)
	}

	e := &Engine{
		level:    plog.ParseLogLevel(opts.LogLevel),
		logOut:   opts.LogOutput,
		errChan:  opts.ErrorChan,
		mode:     mode,
		layout:   stub.LayoutFor(mode.Bits()),
		unit:     barrier.New(platform),
		timeout:  opts.RemovalTimeout,
		interval: opts.RemovalPollInterval,
		nextID:   firstHookID,
	}
	if opts.LogLevel == "" {
		e.level = plog.Error
	}
	if e.logOut == nil {
		e.logOut = os.Stderr
	}
	if e.timeout == 0 {
		e.timeout = time.Second
	}
	if e.interval <= 0 {
		e.interval = 25 * time.Millisecond
	}
	e.logger.Store(plog.NewLogger(e.level, e.logOut, e.errChan))

	e.introThunk, e.outroThunk = opts.IntroThunk, opts.OutroThunk
	if e.introThunk == 0 || e.outroThunk == 0 {
		e.introThunk, e.outroThunk = defaultThunks()
	}
	e.log().Debugf("engine: %s addressing, %s identity", mode.Name(), identityName(opts.Identity))
	return e, nil
}

func identityName(identity string) string {
	if identity == "" {
		return config.IdentityThread
	}
	return identity
}

func (e *Engine) log() *plog.Logger {
	return e.logger.Load()
}

// SetDebug switches the engine log level to debug, or back to the
// configured level.
func (e *Engine) SetDebug(debug bool) {
	level := e.level
	if debug {
		level = plog.Debug
	}
	e.logger.Store(plog.NewLogger(level, e.logOut, e.errChan))
}

// Mode returns the name of the addressing mode in use.
func (e *Engine) Mode() string {
	return e.mode.Name()
}

// Close uninstalls every hook and waits for their removal, as done when
// the hooking library is unloaded.
func (e *Engine) Close() error {
	if err := e.UninstallAll(); err != nil {
		return err
	}
	return e.WaitForPendingRemovals()
}

// CloseNoWait uninstalls every hook without waiting for running handlers
// nor restoring entry points. It is meant for abnormal process termination
// where waiting could deadlock.
func (e *Engine) CloseNoWait() error {
	return e.UninstallAll()
}

var defaultEngine struct {
	once sync.Once
	e    *Engine
	err  error
}

// Default returns the process-wide engine used by the package level
// functions, creating it from the configuration on first use.
func Default() (*Engine, error) {
	defaultEngine.once.Do(func() {
		defaultEngine.e, defaultEngine.err = New()
	})
	return defaultEngine.e, defaultEngine.err
}

// SetDebug switches the default engine to debug logging.
func SetDebug(debug bool) {
	if e, err := Default(); err == nil {
		e.SetDebug(debug)
	}
}
