// Package digest computes content digests for workflow file-sets. The
// aggregate digest of a set is independent of file enumeration order and
// changes whenever any file's content or the set membership changes.
package digest

import (
	"encoding/hex"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/schaermu/flowsyncd/internal/workflow"
)

// Digest is the hex-encoded BLAKE3-256 hash of a byte buffer.
type Digest = string

// FileSetDigest summarizes a workflow's file-set: one digest per file plus an
// aggregate over the whole set.
type FileSetDigest struct {
	Aggregate Digest
	PerFile   map[string]Digest
}

// Sum computes the digest of a byte buffer. It is deterministic and never
// fails.
func Sum(data []byte) Digest {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Combine digests a file-set. The aggregate is derived by sorting per-file
// entries by name, joining them as "name:digest" lines and hashing the joined
// string, so enumeration order cannot influence the result.
func Combine(files workflow.FileSet) FileSetDigest {
	perFile := make(map[string]Digest, len(files))
	for _, f := range files {
		perFile[f.Name] = Sum(f.Data)
	}

	names := make([]string, 0, len(perFile))
	for name := range perFile {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+":"+perFile[name])
	}

	return FileSetDigest{
		Aggregate: Sum([]byte(strings.Join(parts, "\n"))),
		PerFile:   perFile,
	}
}
