// Package registry describes the workflow activities a worker process serves.
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type ActivityRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
}

// Activity is the contract of one job type as modelled in BPMN.
type Activity struct {
	ID           string                 `json:"id"`
	DisplayName  string                 `json:"displayName"`
	Description  string                 `json:"description"`
	Category     string                 `json:"category"`
	TaskType     string                 `json:"taskType"`
	InputSchema  map[string]interface{} `json:"inputSchema"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	ErrorCodes   []string               `json:"errorCodes"`
	Timeout      string                 `json:"timeout"`
	Retries      int                    `json:"retries"`
	Tags         []string               `json:"tags,omitempty"`
}

// Registry collects the activities registered at startup.
type Registry struct {
	version string

	mu         sync.RWMutex
	activities map[string]Activity
	updated    time.Time
}

func New(version string) *Registry {
	return &Registry{version: version, activities: map[string]Activity{}}
}

// Register adds an activity. Task types are unique.
func (r *Registry) Register(a Activity) error {
	if a.TaskType == "" {
		return fmt.Errorf("activity %q has no task type", a.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.activities[a.TaskType]; dup {
		return fmt.Errorf("task type %q already registered", a.TaskType)
	}
	r.activities[a.TaskType] = a
	r.updated = time.Now().UTC()
	return nil
}

func (r *Registry) Lookup(taskType string) (Activity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.activities[taskType]
	return a, ok
}

// Snapshot returns the registry document with activities sorted by task type.
func (r *Registry) Snapshot() ActivityRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := ActivityRegistry{Version: r.version, Activities: make([]Activity, 0, len(r.activities))}
	if !r.updated.IsZero() {
		out.LastUpdated = r.updated.Format(time.RFC3339)
	}
	for _, a := range r.activities {
		out.Activities = append(out.Activities, a)
	}
	sort.Slice(out.Activities, func(i, j int) bool {
		return out.Activities[i].TaskType < out.Activities[j].TaskType
	})
	return out
}

// SchemaMap decodes a JSON Schema document for embedding in an Activity.
func SchemaMap(schema string) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(schema), &m); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return m, nil
}
