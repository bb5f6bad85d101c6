package goal

// ListOptions controls which goals or tasks a store returns.
// Filters that do not apply to the listed entity are ignored.
type ListOptions struct {
	Limit      int
	Offset     int
	GoalID     string
	GoalStatus GoalStatus
	TaskStatus TaskStatus
	Priority   Priority
}

// applyDefaults sanitizes the options. A zero limit means no limit.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit < 0 {
		opts.Limit = 0
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.GoalStatus != "" && !opts.GoalStatus.Valid() {
		opts.GoalStatus = ""
	}
	if opts.TaskStatus != "" && !opts.TaskStatus.Valid() {
		opts.TaskStatus = ""
	}
	if opts.Priority != "" && !opts.Priority.Valid() {
		opts.Priority = ""
	}
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of entities returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching entities.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithGoalID scopes a task listing to one goal.
func WithGoalID(id string) ListOption {
	return func(opts *ListOptions) {
		opts.GoalID = id
	}
}

// WithGoalStatus filters goals by status.
func WithGoalStatus(status GoalStatus) ListOption {
	return func(opts *ListOptions) {
		opts.GoalStatus = status
	}
}

// WithTaskStatus filters tasks by status.
func WithTaskStatus(status TaskStatus) ListOption {
	return func(opts *ListOptions) {
		opts.TaskStatus = status
	}
}

// WithPriority filters goals or tasks by priority.
func WithPriority(priority Priority) ListOption {
	return func(opts *ListOptions) {
		opts.Priority = priority
	}
}

// BuildListOptions applies option functions on top of defaults.
func BuildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

// MatchGoal reports whether a goal passes the goal filters.
func (opts ListOptions) MatchGoal(g *Goal) bool {
	if opts.GoalStatus != "" && g.Status != opts.GoalStatus {
		return false
	}
	if opts.Priority != "" && g.Priority != opts.Priority {
		return false
	}
	return true
}

// MatchTask reports whether a task passes the task filters.
func (opts ListOptions) MatchTask(t *Task) bool {
	if opts.GoalID != "" && t.GoalID != opts.GoalID {
		return false
	}
	if opts.TaskStatus != "" && t.Status != opts.TaskStatus {
		return false
	}
	if opts.Priority != "" && t.Priority != opts.Priority {
		return false
	}
	return true
}

// window applies offset and limit to n matching items.
func (opts ListOptions) window(n int) (start, end int) {
	start = opts.Offset
	if start > n {
		start = n
	}
	end = n
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return start, end
}
