package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/grokify/objectdal"
	"github.com/grokify/objectdal/compress"
	"github.com/grokify/objectdal/internal/filter"
)

// command parses the common flags plus the command's own and opens the
// profile. The caller closes the session.
type command struct {
	fs      *flag.FlagSet
	profile profileFlags
	minArgs int
	argHelp string
}

func newCommand(name, argHelp, summary string, minArgs int) *command {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	c := &command{fs: fs, profile: addProfileFlags(fs), minArgs: minArgs, argHelp: argHelp}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: objectdal %s [options] %s\n\n%s\n\nOptions:\n", name, argHelp, summary)
		fs.PrintDefaults()
	}
	return c
}

func (c *command) parse(args []string) (*session, error) {
	if err := c.fs.Parse(args); err != nil {
		return nil, err
	}
	if c.fs.NArg() < c.minArgs {
		c.fs.Usage()
		return nil, fmt.Errorf("missing arguments: %s", c.argHelp)
	}
	return c.profile.open(stderr)
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

// filterFlags select the entries ls and walk print.
type filterFlags struct {
	include, exclude multiFlag
	minSize, maxSize *int64
	maxAge           *time.Duration
}

func (c *command) addFilterFlags() *filterFlags {
	f := &filterFlags{}
	c.fs.Var(&f.include, "include", "Only show keys matching this pattern (repeatable, ** spans directories)")
	c.fs.Var(&f.exclude, "exclude", "Hide keys matching this pattern (repeatable)")
	f.minSize = c.fs.Int64("min-size", 0, "Hide files smaller than this many bytes")
	f.maxSize = c.fs.Int64("max-size", 0, "Hide files larger than this many bytes")
	f.maxAge = c.fs.Duration("max-age", 0, "Hide files modified longer ago than this")
	return f
}

func (f *filterFlags) build() *filter.Filter {
	var opts []filter.Option
	for _, p := range f.include {
		opts = append(opts, filter.Include(p))
	}
	for _, p := range f.exclude {
		opts = append(opts, filter.Exclude(p))
	}
	if *f.minSize > 0 {
		opts = append(opts, filter.MinSize(*f.minSize))
	}
	if *f.maxSize > 0 {
		opts = append(opts, filter.MaxSize(*f.maxSize))
	}
	if *f.maxAge > 0 {
		opts = append(opts, filter.MaxAge(*f.maxAge))
	}
	return filter.New(opts...)
}

// selected applies the filter, fetching metadata only when a rule needs it.
func selected(ctx context.Context, flt *filter.Filter, o *objectdal.Object) (bool, error) {
	if flt.IsEmpty() {
		return true, nil
	}
	meta := objectdal.NewObjectMetadata(objectdal.ModeOfPath(o.Path()))
	if flt.NeedsMetadata() && meta.Mode.IsFile() {
		var err error
		if meta, err = o.Metadata(ctx); err != nil {
			return false, err
		}
	}
	return flt.Match(o.Path(), meta), nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func formatEntry(o *objectdal.Object, meta objectdal.ObjectMetadata) string {
	size := "-"
	if meta.Mode.IsFile() && meta.HasContentLength() {
		size = fmt.Sprint(meta.ContentLength)
	}
	return fmt.Sprintf("%-4s %12s  %s", meta.Mode, size, o.Path())
}

func runLs(args []string) error {
	c := newCommand("ls", "[dir/]", "List the direct children of a directory.", 0)
	long := c.fs.Bool("l", false, "Show mode and size")
	filters := c.addFilterFlags()
	s, err := c.parse(args)
	if err != nil {
		return err
	}
	defer s.close(stderr)
	ctx, cancel := commandContext()
	defer cancel()

	dir := "/"
	if c.fs.NArg() > 0 {
		dir = dirPath(c.fs.Arg(0))
	}
	flt := filters.build()
	lister, err := s.op.Object(dir).List(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = lister.Close() }()
	for {
		o, err := lister.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ok, err := selected(ctx, flt, o); err != nil {
			return err
		} else if !ok {
			continue
		}
		if !*long {
			fmt.Fprintln(stdout, o.Path())
			continue
		}
		meta, err := o.Metadata(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, formatEntry(o, meta))
	}
}

// walker is the common surface of the two walkers.
type walker interface {
	Next(ctx context.Context) (*objectdal.Object, error)
	Close() error
}

func runWalk(args []string) error {
	c := newCommand("walk", "[dir/]", "List a directory recursively. Parents come first unless --bottom-up.", 0)
	bottomUp := c.fs.Bool("bottom-up", false, "Emit children before their parent directory")
	filters := c.addFilterFlags()
	s, err := c.parse(args)
	if err != nil {
		return err
	}
	defer s.close(stderr)
	ctx, cancel := commandContext()
	defer cancel()

	dir := "/"
	if c.fs.NArg() > 0 {
		dir = dirPath(c.fs.Arg(0))
	}
	flt := filters.build()
	var w walker
	if *bottomUp {
		w, err = s.op.Batch().WalkBottomUp(dir)
	} else {
		w, err = s.op.Batch().WalkTopDown(dir)
	}
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	for {
		o, err := w.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ok, err := selected(ctx, flt, o); err != nil {
			return err
		} else if ok {
			fmt.Fprintln(stdout, o.Path())
		}
	}
}

func runStat(args []string) error {
	c := newCommand("stat", "<path>", "Show the metadata of an object.", 1)
	s, err := c.parse(args)
	if err != nil {
		return err
	}
	defer s.close(stderr)
	ctx, cancel := commandContext()
	defer cancel()

	meta, err := s.op.Object(c.fs.Arg(0)).Stat(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "path: %s\nmode: %s\n", c.fs.Arg(0), meta.Mode)
	if meta.HasContentLength() {
		fmt.Fprintf(stdout, "content_length: %d\n", meta.ContentLength)
	}
	for _, kv := range [][2]string{
		{"content_type", meta.ContentType},
		{"content_md5", meta.ContentMD5},
		{"etag", meta.ETag},
	} {
		if kv[1] != "" {
			fmt.Fprintf(stdout, "%s: %s\n", kv[0], kv[1])
		}
	}
	if !meta.LastModified.IsZero() {
		fmt.Fprintf(stdout, "last_modified: %s\n", objectdal.FormatLastModified(meta.LastModified))
	}
	return nil
}

func runCat(args []string) error {
	c := newCommand("cat", "<path>", "Write an object to stdout.", 1)
	rangeFlag := c.fs.String("range", "", "Byte range such as bytes=0-99, bytes=100- or bytes=-10")
	decompress := c.fs.String("decompress", "", "Decompress with gzip or zstd; \"auto\" detects from the extension")
	s, err := c.parse(args)
	if err != nil {
		return err
	}
	defer s.close(stderr)
	ctx, cancel := commandContext()
	defer cancel()

	rng := objectdal.FullRange()
	if *rangeFlag != "" {
		if rng, err = objectdal.ParseBytesRange(*rangeFlag); err != nil {
			return err
		}
	}
	o := s.op.Object(c.fs.Arg(0))
	r, err := o.RangeReader(ctx, rng)
	if err != nil {
		return err
	}
	if *decompress != "" {
		algo, ok := compress.FromPath(o.Path())
		if *decompress != "auto" {
			algo, err = compress.Parse(*decompress)
			ok = err == nil
		}
		if !ok {
			_ = r.Close()
			return fmt.Errorf("unknown compression for %q", o.Path())
		}
		dr, err := compress.NewReader(algo, r)
		if err != nil {
			_ = r.Close()
			return err
		}
		r = dr
	}
	defer func() { _ = r.Close() }()
	_, err = io.Copy(stdout, r)
	return err
}

func runPut(args []string) error {
	c := newCommand("put", "<local-file|-> <path>", "Upload a local file, or stdin when the file is \"-\".", 2)
	contentType := c.fs.String("content-type", "", "Content type of the object")
	compressFlag := c.fs.String("compress", "", "Compress with gzip or zstd and add the extension to the path")
	s, err := c.parse(args)
	if err != nil {
		return err
	}
	defer s.close(stderr)
	ctx, cancel := commandContext()
	defer cancel()

	var src io.Reader = stdin
	size := int64(-1)
	if name := c.fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		src = f
	}

	target := c.fs.Arg(1)
	if *compressFlag != "" {
		algo, err := compress.Parse(*compressFlag)
		if err != nil {
			return err
		}
		if ext := "." + algo.Extension(); algo != compress.None && !strings.HasSuffix(target, ext) {
			target += ext
		}
		src = compressed(algo, src)
		size = -1
	}

	opArgs := objectdal.OpWrite{Size: size, ContentType: *contentType}
	o := s.op.Object(target)
	rp, err := s.op.Inner().Write(ctx, o.Path(), opArgs, src)
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "wrote %d bytes to %s\n", rp.Written, o.Path())
	return nil
}

// compressed streams src through a compressor.
func compressed(algo compress.Algorithm, src io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		w, err := compress.NewWriter(algo, pw)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(w, src); err != nil {
			_ = w.Close()
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(w.Close())
	}()
	return pr
}

func runRm(args []string) error {
	c := newCommand("rm", "<path>", "Delete an object. Deleting a missing object succeeds.", 1)
	recursive := c.fs.Bool("r", false, "Delete a directory and everything below it")
	s, err := c.parse(args)
	if err != nil {
		return err
	}
	defer s.close(stderr)
	ctx, cancel := commandContext()
	defer cancel()

	path := c.fs.Arg(0)
	if *recursive {
		return s.op.Batch().RemoveAll(ctx, dirPath(path))
	}
	return s.op.Object(path).Delete(ctx)
}

func runPresign(args []string) error {
	c := newCommand("presign", "<path>", "Print a request that works without credentials.", 1)
	opFlag := c.fs.String("op", "read", "Request to presign: read, write or stat")
	expire := c.fs.Duration("expire", time.Hour, "Validity of the request")
	s, err := c.parse(args)
	if err != nil {
		return err
	}
	defer s.close(stderr)
	ctx, cancel := commandContext()
	defer cancel()

	o := s.op.Object(c.fs.Arg(0))
	var req objectdal.PresignedRequest
	switch *opFlag {
	case "read":
		req, err = o.PresignRead(ctx, *expire)
	case "write":
		req, err = o.PresignWrite(ctx, *expire)
	case "stat":
		req, err = o.PresignStat(ctx, *expire)
	default:
		return fmt.Errorf("unknown presign op %q", *opFlag)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s %s\n", req.Method, req.URL)
	for k, vs := range req.Header {
		for _, v := range vs {
			fmt.Fprintf(stdout, "%s: %s\n", k, v)
		}
	}
	return nil
}

func runSchemes(args []string) error {
	fs := flag.NewFlagSet("schemes", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, s := range objectdal.Schemes() {
		fmt.Fprintln(stdout, s)
	}
	return nil
}

// dirPath adds the trailing slash directory arguments need.
func dirPath(p string) string {
	if p == "" || strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}
