// Package archive compresses partitions that are no longer written to.
//
// A superseded partition foo.json becomes foo.json.zst. The compressed file
// is written next to the original under a temporary name, verified by
// decoding it back, and renamed into place before the original is removed.
// The current partition is never touched.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"streamscraper/pkg/logger"
	"streamscraper/pkg/partition"
)

// Options configures an Archiver
type Options struct {
	// Level is a zstd level from 1 (fastest) to 22 (smallest)
	Level int
	// KeepOriginals leaves the uncompressed partition in place
	KeepOriginals bool
	Logger        logger.Logger
}

// Archiver compresses partition files
type Archiver struct {
	level         zstd.EncoderLevel
	keepOriginals bool
	logger        logger.Logger
}

// New creates an Archiver
func New(opts Options) *Archiver {
	if opts.Level <= 0 {
		opts.Level = 3
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &Archiver{
		level:         zstd.EncoderLevelFromZstd(opts.Level),
		keepOriginals: opts.KeepOriginals,
		logger:        opts.Logger.WithField("component", "archive"),
	}
}

// CompressFile compresses path into path+".zst" and returns the new path
func (a *Archiver) CompressFile(path string) (string, error) {
	target := path + partition.ArchiveSuffix
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("archive %s already exists", target)
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open partition: %w", err)
	}
	defer src.Close()

	tempPath := target + ".tmp"
	dst, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(a.level))
	if err != nil {
		dst.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	written, err := io.Copy(enc, src)
	if err == nil {
		err = enc.Close()
	} else {
		enc.Close()
	}
	if err == nil {
		err = dst.Sync()
	}
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to compress %s: %w", path, err)
	}

	if err := verify(tempPath, path); err != nil {
		os.Remove(tempPath)
		return "", err
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to finalize archive: %w", err)
	}
	if !a.keepOriginals {
		if err := os.Remove(path); err != nil {
			return target, fmt.Errorf("archive written but original not removed: %w", err)
		}
	}

	fields := map[string]interface{}{
		"partition": path,
		"archive":   target,
		"bytes":     written,
	}
	if fi, err := os.Stat(target); err == nil {
		fields["compressed_bytes"] = fi.Size()
	}
	a.logger.InfoWithFields("Partition archived", fields)
	return target, nil
}

// Sweep compresses every uncompressed partition in opts.Dir except current
// and returns the archives it wrote. One failure does not stop the sweep.
func (a *Archiver) Sweep(opts partition.Options, current string) ([]string, error) {
	infos, err := partition.Scan(opts)
	if err != nil {
		return nil, err
	}

	compressed := make(map[string]bool)
	for _, info := range infos {
		if info.Compressed {
			compressed[info.Key] = true
		}
	}

	var archived []string
	var firstErr error
	for _, info := range infos {
		if info.Compressed || info.Key == current || compressed[info.Key] {
			continue
		}
		target, err := a.CompressFile(info.Path)
		if err != nil {
			a.logger.WithError(err).WarnWithFields("Failed to archive partition", map[string]interface{}{
				"partition": info.Key,
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		archived = append(archived, target)
	}
	return archived, firstErr
}

// Open returns a reader over a partition, decompressing .zst files
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, partition.ArchiveSuffix) {
		return file, nil
	}

	dec, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return &archiveReader{dec: dec, file: file}, nil
}

type archiveReader struct {
	dec  *zstd.Decoder
	file *os.File
}

func (r *archiveReader) Read(p []byte) (int, error) { return r.dec.Read(p) }

func (r *archiveReader) Close() error {
	r.dec.Close()
	return r.file.Close()
}

// verify decodes archivePath and compares it byte for byte with originalPath
func verify(archivePath, originalPath string) error {
	archived, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to reopen archive: %w", err)
	}
	defer archived.Close()

	dec, err := zstd.NewReader(archived)
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}
	defer dec.Close()

	original, err := os.Open(originalPath)
	if err != nil {
		return fmt.Errorf("failed to reopen partition: %w", err)
	}
	defer original.Close()

	a := make([]byte, 32<<10)
	b := make([]byte, 32<<10)
	for {
		n1, err1 := io.ReadFull(dec, a)
		n2, err2 := io.ReadFull(original, b)
		if n1 != n2 || !bytes.Equal(a[:n1], b[:n2]) {
			return fmt.Errorf("archive verification failed for %s", originalPath)
		}
		if err1 == io.EOF || err1 == io.ErrUnexpectedEOF {
			if err2 == io.EOF || err2 == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("archive verification failed for %s: archive shorter than partition", originalPath)
		}
		if err1 != nil {
			return fmt.Errorf("archive verification failed: %w", err1)
		}
		if err2 != nil {
			return fmt.Errorf("archive verification failed: %w", err2)
		}
	}
}
