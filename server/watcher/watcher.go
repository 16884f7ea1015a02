// Package watcher reads the result side channel the companion watcher
// process appends to while the engine runs. The file is shared: the watcher
// is the sole writer, this reader the sole (transient) reader, and mutual
// exclusion is an advisory lock held only for the duration of one read.
package watcher

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// Scores is the terminal score pair reported for one battle.
type Scores struct {
	P1 int
	P2 int
}

// Reader polls one result log path.
type Reader struct {
	path    string
	retries int
	delay   time.Duration
}

// NewReader returns a Reader for the watcher log at path. retries and delay
// bound the delete-with-retry used by Remove.
func NewReader(path string, retries int, delay time.Duration) *Reader {
	if retries < 1 {
		retries = 1
	}
	return &Reader{path: path, retries: retries, delay: delay}
}

// Path reports the log file location being polled.
func (r *Reader) Path() string { return r.path }

// TryReadLatest reads the last non-empty line of the log under an advisory
// exclusive lock and parses it. It reports ok=false — never an error — when
// the file is absent, the lock is busy, or the line is malformed (the
// watcher may be mid-append); those all mean "no result yet, retry later".
func (r *Reader) TryReadLatest() (Scores, bool, error) {
	if _, err := os.Stat(r.path); err != nil {
		if os.IsNotExist(err) {
			return Scores{}, false, nil
		}
		return Scores{}, false, err
	}

	lk := flock.New(r.path)
	locked, err := lk.TryLock()
	if err != nil || !locked {
		// busy producer; come back next poll
		return Scores{}, false, nil
	}
	defer lk.Unlock()

	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Scores{}, false, nil
		}
		return Scores{}, false, err
	}
	line := lastNonEmptyLine(string(raw))
	if line == "" {
		return Scores{}, false, nil
	}
	sc, ok := ParseLine(line)
	return sc, ok, nil
}

// Remove deletes the log so the next session starts clean, retrying a
// bounded number of times because the OS may still hold the file briefly
// after the watcher exits. A missing file is success.
func (r *Reader) Remove() error {
	var err error
	for i := 0; i < r.retries; i++ {
		err = os.Remove(r.path)
		if err == nil || os.IsNotExist(err) {
			return nil
		}
		time.Sleep(r.delay)
	}
	return err
}

// ParseLine extracts the score pair from one log line. Two encodings are
// accepted: a JSON two-element numeric array, and the watcher's four-field
// comma record with the scores in fields 3 and 4. Anything else is not a
// result.
func ParseLine(line string) (Scores, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Scores{}, false
	}
	if strings.HasPrefix(line, "[") {
		var pair []float64
		if err := json.Unmarshal([]byte(line), &pair); err == nil && len(pair) == 2 {
			return Scores{P1: int(pair[0]), P2: int(pair[1])}, true
		}
		return Scores{}, false
	}
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Scores{}, false
	}
	p1, err1 := strconv.Atoi(strings.TrimSpace(fields[2]))
	p2, err2 := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err1 != nil || err2 != nil {
		return Scores{}, false
	}
	return Scores{P1: p1, P2: p2}, true
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if t := strings.TrimSpace(lines[i]); t != "" {
			return t
		}
	}
	return ""
}
