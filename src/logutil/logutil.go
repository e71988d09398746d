package logutil

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

const (
	logFileName  = "screen_solver_debug.log"
	maxSizeBytes = 10 * 1024 * 1024 // 10 MB
	maxArchives  = 3
)

// Setup routes the global logger to a size-rotated file when enabled, and
// discards log output otherwise so stdout stays clean for CLI use.
func Setup(enableFileLogging bool) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if !enableFileLogging {
		log.SetOutput(io.Discard)
		return
	}
	rotate()
	f, err := openLogFile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		return
	}
	log.SetOutput(&rotatingFile{f: f})
}

func openLogFile() (*os.File, error) {
	return os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
}

// rotatingFile checks the size budget on every write; crossing it shifts the
// current file into the archive chain before continuing.
type rotatingFile struct{ f *os.File }

func (w *rotatingFile) Write(p []byte) (int, error) {
	if st, err := w.f.Stat(); err == nil && st.Size()+int64(len(p)) > maxSizeBytes {
		_ = w.f.Close()
		rotate()
		nf, err := openLogFile()
		if err != nil {
			return 0, err
		}
		w.f = nf
	}
	return w.f.Write(p)
}

// rotate shifts archives up one slot (.1 -> .2 -> .3, oldest dropped) when
// the base file is over budget.
func rotate() {
	st, err := os.Stat(logFileName)
	if err != nil || st.Size() <= maxSizeBytes {
		return
	}
	_ = os.Remove(archiveName(maxArchives))
	for i := maxArchives - 1; i >= 1; i-- {
		_ = os.Rename(archiveName(i), archiveName(i+1))
	}
	_ = os.Rename(logFileName, archiveName(1))
}

func archiveName(n int) string {
	return filepath.Join(".", fmt.Sprintf("%s.%d", logFileName, n))
}

// RedactKey masks an API key, leaving first/last 4 chars: xxxx...yyyy
func RedactKey(k string) string {
	if len(k) <= 8 {
		return "********"
	}
	return fmt.Sprintf("%s...%s", k[:4], k[len(k)-4:])
}
