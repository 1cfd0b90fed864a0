// Package audit implements the Audit Store (C1): sequentially numbered
// files per workflow instance directory, promotion from active to done on
// completion, and git commit of finalized artifacts. No pack library wraps
// "sequential file numbering + directory rename + git commit"; this stays
// on the standard library plus os/exec for git, per DESIGN.md's stdlib
// justification for this component.
package audit

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"

	pkgerrors "github.com/pkg/errors"

	"github.com/nickmisasi/governance-engine/logging"
)

// sequencePrefix matches the "NNN-" (or wider, once rolled over) prefix of
// an audit file name.
var sequencePrefix = regexp.MustCompile(`^(\d{3,})-`)

// minWidth is the starting zero-pad width; spec §3 specifies three digits,
// "rolling to four digits if exceeded." Resolving the §9 open question:
// widening continues indefinitely past four digits rather than erroring.
const minWidth = 3

// Store performs all audit-directory filesystem operations. It holds only
// a logger; all paths are passed explicitly to keep ownership (spec §3,
// "the Workflow Instance exclusively owns its audit directory") visible at
// each call site rather than hidden in constructor state.
type Store struct {
	logger logging.Logger
}

func New(logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Store{logger: logger}
}

// NextNumber returns one more than the largest sequence prefix in dir, which
// in a dense (gap-free) directory is the smallest unused number. A gap left
// below the largest prefix is not reused. Returns 1 if dir is empty or
// absent.
func (s *Store) NextNumber(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 1, nil
		}
		return 0, pkgerrors.Wrapf(err, "read audit directory %s", dir)
	}

	max := 0
	for _, e := range entries {
		m := sequencePrefix.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

// width returns the zero-pad width for n: 3 digits up to 999, widening by
// one digit for each additional order of magnitude past that.
func width(n int) int {
	w := minWidth
	ceiling := 1
	for i := 0; i < minWidth; i++ {
		ceiling *= 10
	}
	for n >= ceiling {
		ceiling *= 10
		w++
	}
	return w
}

// Save writes "<NNN>-<suffix>" in dir with content, creating dir if needed.
// It returns the absolute path written. Empty content is permitted — it
// records an intentional zero-byte marker, not an error.
func (s *Store) Save(dir string, number int, suffix, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pkgerrors.Wrapf(err, "create audit directory %s", dir)
	}

	name := fmt.Sprintf("%0*d-%s", width(number), number, suffix)
	path := filepath.Join(dir, name)

	if _, err := os.Stat(path); err == nil {
		return "", pkgerrors.Errorf("audit file already exists, refusing to overwrite: %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "create audit file %s", path)
	}
	// Guaranteed release of the file handle on every exit path, including a
	// short write or an error from Write itself.
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return "", pkgerrors.Wrapf(err, "write audit file %s", path)
	}
	if err := f.Sync(); err != nil {
		return "", pkgerrors.Wrapf(err, "sync audit file %s", path)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	s.logger.Debug("audit file saved", "path", abs)
	return abs, nil
}

// MoveToDone promotes activeDir to "<doneParent>/<externalID>-<slug>",
// where slug is activeDir's base name. It renames when possible and falls
// back to copy-then-delete when the rename crosses a filesystem boundary.
// The destination must not already exist.
func (s *Store) MoveToDone(activeDir, doneParent, externalID string) (string, error) {
	slug := filepath.Base(activeDir)
	dest := filepath.Join(doneParent, externalID+"-"+slug)

	if _, err := os.Stat(dest); err == nil {
		return "", pkgerrors.Errorf("done directory already exists: %s", dest)
	}

	if err := os.MkdirAll(doneParent, 0o755); err != nil {
		return "", pkgerrors.Wrapf(err, "create done parent %s", doneParent)
	}

	err := os.Rename(activeDir, dest)
	if err == nil {
		s.logger.Debug("audit directory promoted to done", "from", activeDir, "to", dest)
		return dest, nil
	}

	var linkErr *os.LinkError
	crossDevice := errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
	if !crossDevice {
		return "", pkgerrors.Wrapf(err, "move %s to %s", activeDir, dest)
	}

	// Cross-filesystem rename: copy then delete the source.
	if err := copyDir(activeDir, dest); err != nil {
		return "", pkgerrors.Wrapf(err, "copy %s to %s", activeDir, dest)
	}
	if err := os.RemoveAll(activeDir); err != nil {
		return "", pkgerrors.Wrapf(err, "remove source directory %s after copy", activeDir)
	}
	s.logger.Debug("audit directory promoted to done via copy", "from", activeDir, "to", dest)
	return dest, nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}

// CommitLineage stages paths and creates a git commit in repoRoot. Failure
// is reported but never modifies or removes the already-written files.
func (s *Store) CommitLineage(repoRoot string, paths []string, message string) error {
	if len(paths) == 0 {
		return pkgerrors.New("commitLineage called with no paths")
	}

	args := append([]string{"add"}, paths...)
	if err := runGit(repoRoot, args...); err != nil {
		return pkgerrors.Wrap(err, "git add lineage paths")
	}

	if err := runGit(repoRoot, "commit", "-m", message); err != nil {
		return pkgerrors.Wrap(err, "git commit lineage")
	}

	s.logger.Info("lineage committed", "repo_root", repoRoot, "paths", strings.Join(paths, ","))
	return nil
}

func runGit(repoRoot string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return nil
}

// ListNumbered returns the names of every sequentially numbered file in dir
// in ascending numeric order, used by invariant checks and tests.
func ListNumbered(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrapf(err, "read audit directory %s", dir)
	}
	type numbered struct {
		n    int
		name string
	}
	var nums []numbered
	for _, e := range entries {
		m := sequencePrefix.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		nums = append(nums, numbered{n: n, name: e.Name()})
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i].n < nums[j].n })
	out := make([]string, len(nums))
	for i, nn := range nums {
		out[i] = nn.name
	}
	return out, nil
}
