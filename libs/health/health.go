package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates that the component is healthy
	StatusUp Status = "up"
	// StatusDown indicates that the component is unhealthy
	StatusDown Status = "down"
	// StatusDegraded indicates that the component is partially healthy
	StatusDegraded Status = "degraded"
)

// CheckFunc reports the status of one component
type CheckFunc func(ctx context.Context) (Status, error)

// Component represents a component that can be health checked
type Component struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Checker represents a health checker
type Checker struct {
	components   map[string]*Component
	updatedAt    time.Time
	mu           sync.RWMutex
	checkFuncs   map[string]CheckFunc
	checkPeriod  time.Duration
	checkTimeout time.Duration
	onChange     []func(overall Status, components []Component)
	stopOnce     sync.Once
	stopChan     chan struct{}
}

// NewChecker creates a new health checker. A zero period checks every 30s.
func NewChecker(period time.Duration) *Checker {
	if period <= 0 {
		period = 30 * time.Second
	}
	return &Checker{
		components:   make(map[string]*Component),
		updatedAt:    time.Now(),
		checkFuncs:   make(map[string]CheckFunc),
		checkPeriod:  period,
		checkTimeout: 5 * time.Second,
		stopChan:     make(chan struct{}),
	}
}

// RegisterComponent registers a component with the health checker
func (c *Checker) RegisterComponent(name string, checkFunc CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = &Component{
		Name:   name,
		Status: StatusDown,
	}
	c.checkFuncs[name] = checkFunc
}

// OnChange registers fn to run after every check round that changed a
// component's status. Register hooks before Start.
func (c *Checker) OnChange(fn func(overall Status, components []Component)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// Start starts the health checker
func (c *Checker) Start() {
	ticker := time.NewTicker(c.checkPeriod)
	go func() {
		// Initial check
		c.CheckNow(context.Background())

		for {
			select {
			case <-ticker.C:
				c.CheckNow(context.Background())
			case <-c.stopChan:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the health checker
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

// CheckNow runs every registered check once, in parallel, and returns the
// overall status afterwards.
func (c *Checker) CheckNow(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checkFuncs))
	for name, checkFunc := range c.checkFuncs {
		checks[name] = checkFunc
	}
	c.mu.RUnlock()

	type result struct {
		name   string
		status Status
		err    error
	}
	results := make(chan result, len(checks))

	var wg sync.WaitGroup
	for name, checkFunc := range checks {
		wg.Add(1)
		go func(name string, checkFunc CheckFunc) {
			defer wg.Done()
			status, err := checkFunc(ctx)
			results <- result{name: name, status: status, err: err}
		}(name, checkFunc)
	}
	wg.Wait()
	close(results)

	c.mu.Lock()
	changed := false
	for r := range results {
		component, exists := c.components[r.name]
		if !exists {
			// Component was removed during check
			continue
		}
		errText := ""
		if r.err != nil {
			errText = r.err.Error()
		}
		if component.Status != r.status || component.Error != errText {
			changed = true
		}
		component.Status = r.status
		component.Error = errText
	}
	c.updatedAt = time.Now()
	hooks := c.onChange
	c.mu.Unlock()

	overall := c.GetOverallStatus()
	if changed {
		all := c.GetAllComponentStatuses()
		for _, fn := range hooks {
			fn(overall, all)
		}
	}
	return overall
}

// GetComponentStatus gets the status of a component
func (c *Checker) GetComponentStatus(name string) (Component, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	component, exists := c.components[name]
	if !exists {
		return Component{}, fmt.Errorf("component not found: %s", name)
	}

	return *component, nil
}

// GetAllComponentStatuses gets the status of all components, by name
func (c *Checker) GetAllComponentStatuses() []Component {
	c.mu.RLock()
	defer c.mu.RUnlock()

	statuses := make([]Component, 0, len(c.components))
	for _, component := range c.components {
		statuses = append(statuses, *component)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })

	return statuses
}

// GetOverallStatus gets the overall health status
func (c *Checker) GetOverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.components) == 0 {
		return StatusDown
	}

	for _, component := range c.components {
		if component.Status != StatusUp {
			return StatusDegraded
		}
	}

	return StatusUp
}

// HTTPHandler returns an HTTP handler for health checks
func (c *Checker) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		// Get query parameters
		format := r.URL.Query().Get("format")
		component := r.URL.Query().Get("component")

		// If component is specified, return the status of that component
		if component != "" {
			componentStatus, err := c.GetComponentStatus(component)
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprintf(w, "Component not found: %s", component)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(componentStatus)
			return
		}

		allStatuses := c.GetAllComponentStatuses()
		overallStatus := c.GetOverallStatus()

		code := http.StatusOK
		if overallStatus == StatusDown {
			code = http.StatusServiceUnavailable
		}

		if format == "simple" {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(code)
			fmt.Fprintf(w, "%s", overallStatus)
			return
		}

		c.mu.RLock()
		updatedAt := c.updatedAt
		c.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     overallStatus,
			"components": allStatuses,
			"updated_at": updatedAt.Format(time.RFC3339),
		})
	})
}
