package configfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/bcpc-build/bcpc-build/pkg/log"
)

// BackupSuffix is appended to a file's name for the copy kept by Edit.
const BackupSuffix = ".bak"

// EditFunc receives a copy of the current contents and returns the new
// contents.
type EditFunc func(contents any) (any, error)

// TransformFunc is one step of a Transform.
type TransformFunc func(contents any) (any, error)

// TransformOptions controls when Transform writes to disk.
type TransformOptions struct {
	// Flush writes the final contents to disk.
	Flush bool
	// Immediate flushes after every step instead of once at the end.
	Immediate bool
}

// ConfigFile is a structured file whose contents always reflect the last
// successful load or flush.
type ConfigFile struct {
	Name     string
	Filename string

	codec    Codec
	contents any
	registry *Registry
	logger   log.Logger
}

// Option configures a ConfigFile.
type Option func(*ConfigFile)

// WithRegistry sets the codecs used for sniffing.
func WithRegistry(r *Registry) Option {
	return func(c *ConfigFile) {
		c.registry = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *ConfigFile) {
		c.logger = logger
	}
}

// Load opens path, naming the ConfigFile after its base name.
func Load(path string, opts ...Option) (*ConfigFile, error) {
	return Open(filepath.Base(path), path, opts...)
}

// Open reads and sniffs the file at path.
func Open(name, path string, opts ...Option) (*ConfigFile, error) {
	c := &ConfigFile{Name: name, Filename: path, registry: DefaultRegistry}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.OrDefault(c.logger).WithComponent("configfile").With(log.Str("file", path))

	if err := c.Refresh(); err != nil {
		return nil, err
	}
	return c, nil
}

// Contents returns the current tree. Callers must not modify it; use Edit or
// Transform.
func (c *ConfigFile) Contents() any {
	return c.contents
}

// Format names the codec the file was read with.
func (c *ConfigFile) Format() string {
	if c.codec == nil {
		return ""
	}
	return c.codec.Name()
}

// Refresh re-reads the file. On failure the contents are left unchanged.
func (c *ConfigFile) Refresh() error {
	data, err := os.ReadFile(c.Filename)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", c.Filename, err)
	}
	v, codec, err := c.registry.Sniff(c.Filename, data)
	if err != nil {
		return err
	}
	c.contents = v
	c.codec = codec
	return nil
}

// Flush writes the current contents with the file's codec. The file is
// replaced atomically, keeping its mode and ownership.
func (c *ConfigFile) Flush() error {
	data, err := c.codec.Encode(c.contents)
	if err != nil {
		return fmt.Errorf("could not encode %s as %s: %w", c.Filename, c.codec.Name(), err)
	}
	return c.writeAtomic(data)
}

// Edit applies fn to a copy of the contents, flushes the result and reloads
// it from disk. With backup, the previous file is first copied to
// <file>.bak; a failed backup is only logged. If fn fails nothing changes.
func (c *ConfigFile) Edit(backup bool, fn EditFunc) error {
	if backup {
		if err := c.Backup(); err != nil {
			c.logger.Warn("Could not back up config file", log.Err(err))
		}
	}

	next, err := fn(Clone(c.contents))
	if err != nil {
		return err
	}

	prev := c.contents
	c.contents = next
	if err := c.Flush(); err != nil {
		c.contents = prev
		return err
	}
	return c.Refresh()
}

// Transform applies fns in order and returns every intermediate state,
// starting with the initial contents. The in-memory contents follow each
// step; disk is written per opts. A failing step stops the transform with
// the contents at the last successful step and nothing further flushed.
func (c *ConfigFile) Transform(fns []TransformFunc, opts TransformOptions) ([]any, error) {
	states := []any{Clone(c.contents)}
	for i, fn := range fns {
		next, err := fn(Clone(c.contents))
		if err != nil {
			return states, fmt.Errorf("transform step %d: %w", i, err)
		}
		c.contents = next
		states = append(states, Clone(next))

		if opts.Flush && opts.Immediate {
			if err := c.Flush(); err != nil {
				return states, err
			}
		}
	}
	if opts.Flush && !opts.Immediate {
		if err := c.Flush(); err != nil {
			return states, err
		}
	}
	return states, nil
}

// Backup copies the file to its backup path.
func (c *ConfigFile) Backup() error {
	src, err := os.Open(c.Filename)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	dst, err := os.OpenFile(c.BackupPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	copyOwner(c.BackupPath(), info)
	c.logger.Debug("Backed up config file", log.Str("backup", c.BackupPath()))
	return nil
}

// BackupPath is where Backup writes.
func (c *ConfigFile) BackupPath() string {
	return c.Filename + BackupSuffix
}

func (c *ConfigFile) writeAtomic(data []byte) error {
	dir := filepath.Dir(c.Filename)
	mode := os.FileMode(0644)
	info, statErr := os.Stat(c.Filename)
	if statErr == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(c.Filename)+".tmp-*")
	if err != nil {
		return fmt.Errorf("could not create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	if statErr == nil {
		copyOwner(tmpName, info)
	}
	if err := os.Rename(tmpName, c.Filename); err != nil {
		return fmt.Errorf("could not replace %s: %w", c.Filename, err)
	}
	c.logger.Debug("Flushed config file", log.Str("format", c.codec.Name()))
	return nil
}

// copyOwner gives path the owner of info. Only root can give files away, so
// errors are ignored.
func copyOwner(path string, info os.FileInfo) {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		_ = os.Lchown(path, int(st.Uid), int(st.Gid))
	}
}
