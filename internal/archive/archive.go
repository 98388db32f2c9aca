// Package archive serializes workflow file-sets for transport as gzipped tar
// streams. It is used only at the remote client boundary, never by the sync
// core.
package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/schaermu/flowsyncd/internal/workflow"
)

// Encode packs a file-set into a gzipped tar archive. Entries are written in
// name order so equal sets produce equal archives.
func Encode(files workflow.FileSet) ([]byte, error) {
	sorted := make(workflow.FileSet, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, f := range sorted {
		hdr := &tar.Header{
			Name:     f.Name,
			Mode:     0644,
			Size:     int64(len(f.Data)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("failed to write archive header for %q: %w", f.Name, err)
		}
		if _, err := tw.Write(f.Data); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %q: %w", f.Name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode unpacks a gzipped tar archive into a file-set. Entries whose names
// are not plain file names (path separators, parent references) are rejected.
func Decode(data []byte) (workflow.FileSet, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read compressed archive: %w", err)
	}
	defer func() {
		_ = gz.Close()
	}()

	tr := tar.NewReader(gz)
	var files workflow.FileSet
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if strings.ContainsAny(hdr.Name, `/\`) || hdr.Name == "." || hdr.Name == ".." {
			return nil, fmt.Errorf("archive entry %q is not a plain file name", hdr.Name)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %q: %w", hdr.Name, err)
		}
		files = append(files, workflow.File{Name: hdr.Name, Data: content})
	}

	return files, nil
}
