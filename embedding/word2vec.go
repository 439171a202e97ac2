package embedding

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/hupe1980/knnshard/internal/mmap"
)

// LoadWord2Vec loads a model stored in the word2vec binary format:
//
//	"<words> <dim>\n"
//	word<SP><dim little-endian float32>[\n]
//	...
//
// The file is memory-mapped while parsing and released afterwards.
func LoadWord2Vec(path string, optFns ...func(*Options)) (*Memory, error) {
	opts := applyOptions(optFns)
	start := time.Now()

	f, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("embedding: open %s: %w", path, err)
	}
	defer f.Close()

	_ = f.Advise(mmap.AccessSequential)

	m, err := parseWord2Vec(f.Bytes(), opts)
	if err != nil {
		return nil, fmt.Errorf("embedding: load %s: %w", path, err)
	}

	if opts.Logger != nil {
		opts.Logger.Info("model loaded",
			"path", path,
			"words", m.Len(),
			"dimension", m.Dimension(),
			"float16", m.HalfPrecision(),
			"duration", time.Since(start),
		)
	}
	return m, nil
}

// ParseWord2Vec parses a word2vec binary model held in memory.
func ParseWord2Vec(data []byte, optFns ...func(*Options)) (*Memory, error) {
	return parseWord2Vec(data, applyOptions(optFns))
}

func parseWord2Vec(data []byte, opts Options) (*Memory, error) {
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("%w: missing header", ErrMalformed)
	}

	var count, dim int
	header := bytes.Fields(data[:nl])
	if len(header) != 2 {
		return nil, fmt.Errorf("%w: header %q", ErrMalformed, data[:nl])
	}
	count, err := strconv.Atoi(string(header[0]))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: word count %q", ErrMalformed, header[0])
	}
	dim, err = strconv.Atoi(string(header[1]))
	if err != nil || dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %q", ErrMalformed, header[1])
	}

	if dim > len(data)/4 {
		return nil, fmt.Errorf("%w: dimension %d exceeds data size %d", ErrMalformed, dim, len(data))
	}
	rowBytes := dim * 4

	if opts.Limit > 0 && opts.Limit < count {
		count = opts.Limit
	}

	// Each row holds at least a one-byte word, a space and the vector.
	if maxRows := (len(data) - nl - 1) / (rowBytes + 2); count > maxRows {
		return nil, fmt.Errorf("%w: header claims %d words, data holds at most %d", ErrMalformed, count, maxRows)
	}

	b := newMemoryBuilder(count, dim, opts.Float16)
	vec := make([]float32, dim)

	pos := nl + 1
	for i := range count {
		// Rows may be separated by a newline.
		for pos < len(data) && data[pos] == '\n' {
			pos++
		}

		sp := bytes.IndexByte(data[pos:], ' ')
		if sp <= 0 {
			return nil, fmt.Errorf("%w: row %d: missing word", ErrMalformed, i)
		}
		word := string(data[pos : pos+sp])
		pos += sp + 1

		if pos+rowBytes > len(data) {
			return nil, fmt.Errorf("%w: row %d (%q): truncated vector", ErrMalformed, i, word)
		}
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[pos+j*4:]))
		}
		pos += rowBytes

		if err := b.add(word, vec); err != nil {
			return nil, err
		}
	}

	return b.build(), nil
}

// WriteWord2Vec writes words and vectors in the word2vec binary format.
func WriteWord2Vec(w io.Writer, words []string, vectors [][]float32) error {
	if len(words) != len(vectors) {
		return fmt.Errorf("%w: %d words but %d vectors", ErrMalformed, len(words), len(vectors))
	}
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%d %d\n", len(words), dim); err != nil {
		return err
	}

	var buf [4]byte
	for i, word := range words {
		if len(vectors[i]) != dim {
			return fmt.Errorf("%w: word %q has %d dimensions, want %d", ErrDimensionMismatch, word, len(vectors[i]), dim)
		}
		if _, err := bw.WriteString(word); err != nil {
			return err
		}
		if err := bw.WriteByte(' '); err != nil {
			return err
		}
		for _, v := range vectors[i] {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
