package workflow

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/mhaegens/DMLegoArm/pkg/logger"
	"github.com/mhaegens/DMLegoArm/pkg/motion"
)

//go:embed library.yaml
var defaultLibrary []byte

// Location is a pick/place site reached through a sequence of named poses.
type Location struct {
	Approach []string `yaml:"approach"`
	Retreat  []string `yaml:"retreat,omitempty"`
}

// ProcessStep names a pose, lists joint targets inline, or both.
type ProcessStep struct {
	Label  string      `yaml:"label"`
	Pose   string      `yaml:"pose,omitempty"`
	Joints motion.Pose `yaml:"joints,omitempty"`
}

// Process is a named workflow.
type Process struct {
	Description string        `yaml:"description,omitempty"`
	Speed       int           `yaml:"speed,omitempty"`
	Steps       []ProcessStep `yaml:"steps"`
}

type document struct {
	Poses     map[string]motion.Pose `yaml:"poses"`
	Locations map[string]Location    `yaml:"locations"`
	Processes map[string]Process     `yaml:"processes"`
}

// Library holds named poses, locations and processes. It is safe for
// concurrent use and can be reloaded from its file while in use.
type Library struct {
	mu   sync.RWMutex
	doc  *document
	path string
}

// DefaultLibrary returns the built-in library.
func DefaultLibrary() *Library {
	doc, err := parseLibrary(defaultLibrary)
	if err == nil {
		err = doc.validate()
	}
	if err != nil {
		panic(fmt.Sprintf("built-in library: %v", err))
	}
	return &Library{doc: doc}
}

// LoadLibrary reads a library file. An empty path returns the built-in
// library. Entries in the file replace built-in entries of the same name.
func LoadLibrary(path string) (*Library, error) {
	lib := DefaultLibrary()
	if path == "" {
		return lib, nil
	}
	lib.path = path
	if err := lib.Reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Path returns the file the library was loaded from, if any.
func (l *Library) Path() string {
	return l.path
}

// Reload re-reads the library file. The current contents are kept when the
// file is invalid.
func (l *Library) Reload() error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read library: %w", err)
	}
	doc, err := parseLibrary(defaultLibrary)
	if err != nil {
		return err
	}
	override, err := parseLibrary(data)
	if err != nil {
		return fmt.Errorf("%s: %w", l.path, err)
	}
	doc.merge(override)
	if err := doc.validate(); err != nil {
		return fmt.Errorf("%s: %w", l.path, err)
	}

	l.mu.Lock()
	l.doc = doc
	l.mu.Unlock()
	return nil
}

func parseLibrary(data []byte) (*document, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse library: %w", err)
	}
	return &doc, nil
}

func (d *document) merge(o *document) {
	if d.Poses == nil {
		d.Poses = make(map[string]motion.Pose)
	}
	if d.Locations == nil {
		d.Locations = make(map[string]Location)
	}
	if d.Processes == nil {
		d.Processes = make(map[string]Process)
	}
	for k, v := range o.Poses {
		d.Poses[k] = v
	}
	for k, v := range o.Locations {
		d.Locations[k] = v
	}
	for k, v := range o.Processes {
		d.Processes[k] = v
	}
}

func (d *document) validate() error {
	for name, pose := range d.Poses {
		if err := checkJoints(pose); err != nil {
			return fmt.Errorf("pose %q: %w", name, err)
		}
	}
	for name, loc := range d.Locations {
		if len(loc.Approach) == 0 {
			return fmt.Errorf("location %q: no approach poses", name)
		}
		for _, p := range slices.Concat(loc.Approach, loc.Retreat) {
			if _, ok := d.Poses[p]; !ok {
				return fmt.Errorf("location %q: unknown pose %q", name, p)
			}
		}
	}
	for name, proc := range d.Processes {
		if len(proc.Steps) == 0 {
			return fmt.Errorf("process %q: no steps", name)
		}
		for i, step := range proc.Steps {
			if step.Pose == "" && len(step.Joints) == 0 {
				return fmt.Errorf("process %q step %d: needs a pose or joints", name, i+1)
			}
			if step.Pose != "" {
				if _, ok := d.Poses[step.Pose]; !ok {
					return fmt.Errorf("process %q step %d: unknown pose %q", name, i+1, step.Pose)
				}
			}
			if err := checkJoints(step.Joints); err != nil {
				return fmt.Errorf("process %q step %d: %w", name, i+1, err)
			}
		}
	}
	return nil
}

func checkJoints(p motion.Pose) error {
	for j := range p {
		if !j.Known() {
			return fmt.Errorf("%w: %q", motion.ErrUnknownJoint, j)
		}
	}
	return nil
}

// Pose returns a copy of the named pose.
func (l *Library) Pose(name string) (motion.Pose, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.doc.Poses[name]
	if !ok {
		return nil, false
	}
	out := make(motion.Pose, len(p))
	for j, t := range p {
		out[j] = t
	}
	return out, true
}

// Location returns the named pick/place location.
func (l *Library) Location(name string) (Location, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loc, ok := l.doc.Locations[name]
	return loc, ok
}

// Process returns the named process.
func (l *Library) Process(name string) (Process, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.doc.Processes[name]
	return p, ok
}

// Processes returns the process names in sorted order.
func (l *Library) Processes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.doc.Processes))
	for name := range l.doc.Processes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Poses returns the pose names in sorted order.
func (l *Library) Poses() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.doc.Poses))
	for name := range l.doc.Poses {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Steps expands a process into runnable steps.
func (l *Library) Steps(p Process) ([]Step, error) {
	steps := make([]Step, 0, len(p.Steps))
	for i, ps := range p.Steps {
		pose := make(motion.Pose)
		if ps.Pose != "" {
			named, ok := l.Pose(ps.Pose)
			if !ok {
				return nil, fmt.Errorf("step %d: unknown pose %q", i+1, ps.Pose)
			}
			pose = named
		}
		for j, t := range ps.Joints {
			pose[j] = t
		}
		label := ps.Label
		if label == "" {
			label = ps.Pose
		}
		steps = append(steps, Step{Label: label, Pose: pose})
	}
	return steps, nil
}

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the library whenever its file changes until ctx is done.
// Bursts of events are coalesced. onReload, if set, receives the result of
// every reload.
func (l *Library) Watch(ctx context.Context, log logger.Logger, onReload func(error)) error {
	if l.path == "" {
		return fmt.Errorf("library has no file to watch")
	}
	if log == nil {
		log = logger.Discard()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory so editors that replace the file are noticed.
	dir := filepath.Dir(l.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(l.path)

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer.Reset(reloadDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("library watcher error", logger.WithError(err))
		case <-timer.C:
			err := l.Reload()
			if err != nil {
				log.Error("library reload failed", logger.WithError(err), logger.WithField("file", l.path))
			} else {
				log.Info("library reloaded", logger.WithField("file", l.path))
			}
			if onReload != nil {
				onReload(err)
			}
		}
	}
}
