// Package shardfile defines the on-disk shard output: file naming, the
// tab-separated neighbor record format, append-only writes and directory
// statistics.
//
// Each line is one record:
//
//	source<TAB>neighbor<TAB>score\n
//
// There is no header or footer; files are opened in append mode and never
// truncated.
package shardfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hupe1980/knnshard/internal/fs"
)

const (
	prefix = "shard_"
	suffix = ".csv"
)

// ErrInvalidField is returned when a word cannot be represented in a record.
var ErrInvalidField = errors.New("shardfile: field contains tab or newline")

// ErrMalformedLine is returned by ParseLine for lines that are not records.
var ErrMalformedLine = errors.New("shardfile: malformed record line")

// Name returns the file name of shard id.
func Name(id int) string {
	return prefix + strconv.Itoa(id) + suffix
}

// Path returns the path of shard id inside dir.
func Path(dir string, id int) string {
	return filepath.Join(dir, Name(id))
}

// ParseName extracts the shard id from a file name produced by Name.
func ParseName(name string) (int, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	digits := name[len(prefix) : len(name)-len(suffix)]
	if digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	id, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Record is one neighbor relation.
type Record struct {
	Source   string
	Neighbor string
	Score    float32
}

// AppendRecord appends the line encoding of r to dst.
func AppendRecord(dst []byte, r Record) ([]byte, error) {
	if !validField(r.Source) || !validField(r.Neighbor) {
		return dst, fmt.Errorf("%w: %q -> %q", ErrInvalidField, r.Source, r.Neighbor)
	}
	dst = append(dst, r.Source...)
	dst = append(dst, '\t')
	dst = append(dst, r.Neighbor...)
	dst = append(dst, '\t')
	dst = strconv.AppendFloat(dst, float64(r.Score), 'g', -1, 32)
	dst = append(dst, '\n')
	return dst, nil
}

func validField(s string) bool {
	return !strings.ContainsAny(s, "\t\n\r")
}

// ParseLine decodes a single record line, with or without its trailing newline.
func ParseLine(line string) (Record, error) {
	line = strings.TrimSuffix(line, "\n")

	parts := strings.Split(line, "\t")
	if len(parts) != 3 {
		return Record{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	score, err := strconv.ParseFloat(parts[2], 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: score %q: %w", ErrMalformedLine, parts[2], err)
	}
	return Record{Source: parts[0], Neighbor: parts[1], Score: float32(score)}, nil
}

// Scan calls fn for every record in r. Scanning stops at the first error.
func Scan(r io.Reader, fn func(Record) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		rec, err := ParseLine(sc.Text())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Append appends data to the shard file id in dir, creating it if needed.
// It returns the number of bytes written.
func Append(fsys fs.FileSystem, dir string, id int, data []byte) (n int, err error) {
	if fsys == nil {
		fsys = fs.Default
	}

	f, err := fsys.OpenFile(Path(dir, id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return f.Write(data)
}

// Info describes a shard file found on disk.
type Info struct {
	ID   int
	Path string
	Size int64
}

// Stat walks dir recursively and returns every shard file, sorted by path.
// A missing dir yields no files.
func Stat(fsys fs.FileSystem, dir string) ([]Info, error) {
	if fsys == nil {
		fsys = fs.Default
	}

	var infos []Info
	if err := walk(fsys, dir, &infos); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func walk(fsys fs.FileSystem, dir string, out *[]Info) error {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if err := walk(fsys, path, out); err != nil {
				return err
			}
			continue
		}
		id, ok := ParseName(e.Name())
		if !ok {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return err
		}
		*out = append(*out, Info{ID: id, Path: path, Size: fi.Size()})
	}
	return nil
}

// TotalSize sums the sizes of infos.
func TotalSize(infos []Info) int64 {
	var total int64
	for _, fi := range infos {
		total += fi.Size
	}
	return total
}
