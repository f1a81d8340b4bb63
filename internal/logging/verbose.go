package logging

import (
	"os"
	"strings"
	"sync"
)

var (
	mu   sync.RWMutex
	tags map[string]bool
)

func init() {
	tags = make(map[string]bool)
	if v := os.Getenv("CHOOSER_LOG_TAGS"); v != "" {
		EnableMany(v)
	}
}

// VerboseEnabled reports whether tag was turned on via CHOOSER_LOG_TAGS or
// a prior call to Enable/EnableMany. No other package in this module
// consults these tags; the selectors in internal/chooser do not log.
func VerboseEnabled(tag string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return tags[tag]
}

// Enable turns on a single tag at runtime.
func Enable(tag string) {
	if tag == "" {
		return
	}
	mu.Lock()
	tags[tag] = true
	mu.Unlock()
}

// EnableMany enables a comma-separated list of tags at runtime.
func EnableMany(csv string) {
	for _, t := range strings.Split(csv, ",") {
		Enable(strings.TrimSpace(t))
	}
}
