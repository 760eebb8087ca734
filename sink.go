// sink.go: Trace output destinations
//
// The sink is owned exclusively by the writer goroutine; no other component
// writes to it. WrapWriter detects the destination type so files get real
// fsync on Sync() while pipes and in-memory buffers get a no-op.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mlpd

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/klauspost/compress/gzip"
)

// WriteSyncer combines io.Writer with the ability to push written data to
// stable storage.
type WriteSyncer interface {
	io.Writer
	Sync() error
}

// nopSyncer wraps any io.Writer with a no-op Sync.
type nopSyncer struct{ io.Writer }

func (n nopSyncer) Sync() error { return nil }

// fileSyncer wraps *os.File with a real fsync.
type fileSyncer struct{ *os.File }

func (f fileSyncer) Sync() error { return f.File.Sync() }

// WrapWriter converts any io.Writer into a WriteSyncer, using file-backed
// sync when possible.
func WrapWriter(w io.Writer) WriteSyncer {
	switch t := w.(type) {
	case *os.File:
		return fileSyncer{t}
	case WriteSyncer:
		return t
	default:
		return nopSyncer{w}
	}
}

// gzipSyncer writes through a gzip stream. Sync flushes the compressor so a
// reader of a live file sees complete frames.
type gzipSyncer struct {
	gz   *gzip.Writer
	base WriteSyncer
}

func (g *gzipSyncer) Write(p []byte) (int, error) { return g.gz.Write(p) }

func (g *gzipSyncer) Sync() error {
	if err := g.gz.Flush(); err != nil {
		return err
	}
	return g.base.Sync()
}

func (g *gzipSyncer) Close() error {
	if err := g.gz.Close(); err != nil {
		return err
	}
	if closer, ok := g.base.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// pipeSyncer feeds a child process's stdin.
type pipeSyncer struct {
	io.WriteCloser
	cmd *exec.Cmd
}

func (p *pipeSyncer) Sync() error { return nil }

func (p *pipeSyncer) Close() error {
	if err := p.WriteCloser.Close(); err != nil {
		return err
	}
	return p.cmd.Wait()
}

// openSink resolves the configured destination: an explicit writer, stdout,
// a pipe command, or a (templated) file path, optionally gzip-wrapped. The
// gzip stream wraps the whole output including the file header.
func openSink(cfg Config) (WriteSyncer, error) {
	var base WriteSyncer

	switch {
	case cfg.Output != nil:
		base = WrapWriter(cfg.Output)
	case cfg.Filename == "-":
		base = WrapWriter(os.Stdout)
	case strings.HasPrefix(cfg.Filename, "|"):
		cmd := exec.Command("/bin/sh", "-c", cfg.Filename[1:]) // #nosec G204 -- operator-supplied pipe command
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeOutputOpen, "cannot open output pipe")
		}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return nil, errors.Wrap(err, ErrCodeOutputOpen, "cannot start output pipe command")
		}
		base = &pipeSyncer{WriteCloser: stdin, cmd: cmd}
	default:
		f, err := os.Create(expandFilename(cfg.Filename))
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeOutputOpen, "cannot create output file")
		}
		base = fileSyncer{f}
	}

	if cfg.UseZip {
		return &gzipSyncer{gz: gzip.NewWriter(base), base: base}, nil
	}
	return base, nil
}

// closeSink closes the sink if it supports closing.
func closeSink(s WriteSyncer) error {
	if closer, ok := s.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// expandFilename substitutes %t with a UTC timestamp, %p with the pid and
// %% with a literal percent sign.
func expandFilename(name string) string {
	if !strings.ContainsRune(name, '%') {
		return name
	}
	var sb strings.Builder
	ts := time.Now().UTC().Format("20060102150405")
	pid := strconv.Itoa(os.Getpid())
	for i := 0; i < len(name); i++ {
		if name[i] != '%' || i == len(name)-1 {
			sb.WriteByte(name[i])
			continue
		}
		i++
		switch name[i] {
		case 't':
			sb.WriteString(ts)
		case 'p':
			sb.WriteString(pid)
		case '%':
			sb.WriteByte('%')
		default:
			sb.WriteByte('%')
			sb.WriteByte(name[i])
		}
	}
	return sb.String()
}
