// Package archive applies a class transformation to a class file, a
// directory tree of class files, or a jar. The output has the shape of the
// input and is published atomically: every file is first written to a
// uniquely named sibling and then moved into place.
package archive

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"tailrec/internal/config"
	"tailrec/internal/tailrec"
)

// ErrOutputExists is returned when an output file exists and overwriting
// is not enabled.
var ErrOutputExists = errors.New("output already exists")

func logger() commonlog.Logger {
	return commonlog.GetLogger("tailrec.archive")
}

// Stats counts what one run did.
type Stats struct {
	// Classes is the number of class files passed to the optimizer.
	Classes int
	// Optimized is the number of those that changed.
	Optimized int
	// Copied is the number of files or entries copied verbatim.
	Copied int
}

// Processor runs the optimizer over one input.
type Processor struct {
	cfg *config.Config

	// Optimize transforms one class file. It returns its argument when
	// nothing changes.
	Optimize func(class []byte) ([]byte, error)

	classes   atomic.Int64
	optimized atomic.Int64
	copied    atomic.Int64
}

// New returns a processor using tailrec.Optimize.
func New(cfg *config.Config) *Processor {
	return &Processor{cfg: cfg, Optimize: tailrec.Optimize}
}

// Run optimizes input and writes the result to the configured output, or
// over the input when no output is set and overwriting is enabled.
func (p *Processor) Run(input string) (Stats, error) {
	if err := p.cfg.Validate(); err != nil {
		return Stats{}, err
	}
	in, err := filepath.Abs(input)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "resolve %s", input)
	}
	out := in
	if p.cfg.Output != "" {
		if out, err = filepath.Abs(p.cfg.Output); err != nil {
			return Stats{}, errors.Wrapf(err, "resolve %s", p.cfg.Output)
		}
	}

	info, err := os.Stat(in)
	if err != nil {
		return Stats{}, errors.Wrap(err, "input")
	}
	switch {
	case info.IsDir():
		err = p.directory(in, out)
	case !info.Mode().IsRegular():
		err = errors.Errorf("unrecognized input file type: %s", in)
	case isClass(in):
		err = p.classFile(in, out, true)
	default:
		err = p.jar(in, out)
	}
	return p.stats(), err
}

func (p *Processor) stats() Stats {
	return Stats{
		Classes:   int(p.classes.Load()),
		Optimized: int(p.optimized.Load()),
		Copied:    int(p.copied.Load()),
	}
}

func isClass(name string) bool {
	return strings.HasSuffix(name, ".class")
}

// transform runs the optimizer over one class and reports whether it
// changed.
func (p *Processor) transform(name string, data []byte) ([]byte, bool, error) {
	p.classes.Add(1)
	out, err := p.Optimize(data)
	if err != nil {
		return nil, false, errors.Wrap(err, name)
	}
	if tailrec.Same(out, data) {
		logger().Debugf("%s: unchanged", name)
		return out, false, nil
	}
	p.optimized.Add(1)
	logger().Infof("%s: optimized", name)
	return out, true, nil
}

// classFile writes the optimized in to out. Selected is false for class
// files excluded by the configured patterns, which are copied.
func (p *Processor) classFile(in, out string, selected bool) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return errors.Wrap(err, "read class")
	}
	if !selected {
		return p.copyFile(in, out, data)
	}
	result, changed, err := p.transform(in, data)
	if err != nil {
		return err
	}
	if !changed && in == out {
		return nil
	}
	return p.publish(out, func(w io.Writer) error {
		_, err := w.Write(result)
		return err
	})
}

func (p *Processor) copyFile(in, out string, data []byte) error {
	if in == out {
		return nil
	}
	p.copied.Add(1)
	return p.publish(out, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// directory processes every regular file below in on a worker pool. Class
// files are optimized and the rest copied. The first error stops the walk.
func (p *Processor) directory(in, out string) error {
	pool, err := ants.NewPool(p.cfg.Workers)
	if err != nil {
		return errors.Wrap(err, "worker pool")
	}
	defer pool.Release()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if first == nil {
			first = err
		}
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return first != nil
	}

	walkErr := filepath.WalkDir(in, func(file string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Output nested inside the input is not input.
			if file == out && out != in {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if failed() {
			return filepath.SkipAll
		}
		rel, err := filepath.Rel(in, file)
		if err != nil {
			return err
		}
		target := filepath.Join(out, rel)
		task := func() {
			defer wg.Done()
			var err error
			if isClass(file) {
				err = p.classFile(file, target, p.cfg.Selected(rel))
			} else {
				err = p.copy(file, target)
			}
			if err != nil {
				fail(err)
			}
		}
		wg.Add(1)
		if err := pool.Submit(task); err != nil {
			wg.Done()
			return errors.Wrap(err, "submit")
		}
		return nil
	})
	wg.Wait()
	if walkErr != nil {
		return errors.Wrap(walkErr, "walk input")
	}
	return first
}

func (p *Processor) copy(in, out string) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return errors.Wrap(err, "read")
	}
	return p.copyFile(in, out, data)
}

// jar rewrites a zip archive entry by entry, keeping entry order, names,
// timestamps and comments.
func (p *Processor) jar(in, out string) error {
	return p.publish(out, func(w io.Writer) error {
		r, err := zip.OpenReader(in)
		if err != nil {
			return errors.Wrapf(err, "open archive %s", in)
		}
		defer r.Close()

		zw := zip.NewWriter(w)
		if r.Comment != "" {
			if err := zw.SetComment(r.Comment); err != nil {
				return err
			}
		}
		for _, f := range r.File {
			if err := p.entry(zw, f); err != nil {
				return errors.Wrapf(err, "%s!%s", in, f.Name)
			}
		}
		return zw.Close()
	})
}

func (p *Processor) entry(zw *zip.Writer, f *zip.File) error {
	hdr := &zip.FileHeader{
		Name:           f.Name,
		Comment:        f.Comment,
		Method:         f.Method,
		Modified:       f.Modified,
		CreatorVersion: f.CreatorVersion,
		ExternalAttrs:  f.ExternalAttrs,
	}
	if f.FileInfo().IsDir() {
		hdr.Method = zip.Store
		_, err := zw.CreateHeader(hdr)
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	_, err = io.Copy(&buf, rc)
	rc.Close()
	if err != nil {
		return err
	}
	data := buf.Bytes()
	if isClass(f.Name) && p.cfg.Selected(f.Name) {
		if data, _, err = p.transform(f.Name, data); err != nil {
			return err
		}
	} else {
		p.copied.Add(1)
	}

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// publish writes out through a temporary sibling. The temporary is
// renamed over out when overwriting is enabled and hard linked otherwise,
// so an existing file is never clobbered. It is removed on every path.
func (p *Processor) publish(out string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	tmp := out + "." + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "create temporary output")
	}
	defer os.Remove(tmp)

	err = write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "write %s", out)
	}

	if p.cfg.Overwrite {
		return errors.Wrapf(os.Rename(tmp, out), "move to %s", out)
	}
	if err := os.Link(tmp, out); err != nil {
		if os.IsExist(err) {
			return errors.Wrap(ErrOutputExists, out)
		}
		return errors.Wrapf(err, "link %s", out)
	}
	logger().Debugf("wrote %s", out)
	return nil
}
