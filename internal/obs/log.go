package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide line logger. Output is one JSON object
// per line on stdout, ready for a collector to pick up.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest serializes the entry as a single JSON line. Marshal failures
// are reported in-band rather than dropped silently.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log entry not serializable"}`)
		return
	}
	Logger().Println(string(data))
}
