package watcher

// Operation is what happened to a watched file once its events settled.
type Operation int

const (
	// OpModify covers creation, writes and rename-into-place.
	OpModify Operation = iota + 1
	// OpDelete means the file is gone after the debounce window.
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Config controls a Watcher. DebounceMs is the quiet period after the last
// event before the handler runs; zero means 200ms.
type Config struct {
	Enabled    bool
	DebounceMs int
}

// FileChangeHandler receives the settled change for one watched file.
type FileChangeHandler func(path string, op Operation)

// Stats is a snapshot of watcher activity.
type Stats struct {
	Running      bool
	WatchedFiles int
	EventsCount  int64
}
