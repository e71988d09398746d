package clipboard

import (
	"sync"

	"golang.design/x/clipboard"
)

var writeMu sync.Mutex

// Init prepares the system clipboard. Must be called once before Write.
func Init() error {
	return clipboard.Init()
}

// Write performs a mutex-guarded clipboard write to prevent corruption when
// a solution lands while an earlier copy is still in progress.
func Write(text string) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}
