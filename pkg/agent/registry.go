package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps task names to tasks. The server and worker processes build
// the same registry so a task can be resolved by name on either side.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task, replacing any task with the same name
func (r *Registry) Register(task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.Name()] = task
}

// Get resolves a task by name
func (r *Registry) Get(name string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return task, nil
}

// Names returns the registered task names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewDefaultRegistry registers the scripted task and both provider tasks.
// Provider tasks without an API key fail at run time, not here.
func NewDefaultRegistry(anthropicCfg, openaiCfg ProviderConfig) *Registry {
	r := NewRegistry()
	r.Register(NewScriptedTask())
	r.Register(NewAnthropicTask(anthropicCfg))
	r.Register(NewOpenAITask(openaiCfg))
	return r
}
