// Package exithook keeps a process-wide set of cleanup callbacks that run when the program is
// interrupted or terminated, so child processes aren't leaked when a test binary dies early.
//
// Hooks are keyed, so registering the same key twice replaces the earlier hook instead of adding another.
package exithook

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var (
	mu    sync.Mutex
	hooks = map[string]func(){}
	order []string

	installOnce sync.Once
	notify      = installSignalHandler
)

// Register adds or replaces the hook stored under key.
func Register(key string, f func()) {
	mu.Lock()
	if _, ok := hooks[key]; !ok {
		order = append(order, key)
	}
	hooks[key] = f
	mu.Unlock()

	installOnce.Do(notify)
}

// Unregister removes the hook stored under key. Unknown keys are ignored.
func Unregister(key string) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := hooks[key]; !ok {
		return
	}
	delete(hooks, key)
	for i, k := range order {
		if k == key {
			order = append(order[:i], order[i+1:]...)
			break
		}
	}
}

// Disable keeps the package from installing its signal handler. Programs that handle signals
// themselves call it before anything is registered and call Run on their way out.
func Disable() {
	installOnce.Do(func() {})
}

// Len returns the number of registered hooks.
func Len() int {
	mu.Lock()
	defer mu.Unlock()
	return len(hooks)
}

// Run invokes every registered hook in registration order and clears the set.
// A panicking hook doesn't prevent the others from running.
func Run() {
	mu.Lock()
	toRun := make([]func(), 0, len(order))
	for _, k := range order {
		toRun = append(toRun, hooks[k])
	}
	hooks = map[string]func(){}
	order = nil
	mu.Unlock()

	for _, f := range toRun {
		func() {
			defer func() { _ = recover() }()
			f()
		}()
	}
}

func installSignalHandler() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-ch
		Run()
		// hand the signal back to the default handler so the exit status stays meaningful
		signal.Stop(ch)
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(sig)
		}
		os.Exit(1)
	}()
}
