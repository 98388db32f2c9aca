package workflow

import "errors"

// ManifestName is the file that marks a directory as a tracked workflow.
const ManifestName = "workflow.yaml"

// ErrNotFound indicates that a workflow directory does not exist locally.
var ErrNotFound = errors.New("workflow not found")

// File is a single named file inside a workflow. Names are flat: they are
// unique within the workflow and never contain path separators.
type File struct {
	Name string
	Data []byte
}

// FileSet is the flat collection of files making up one workflow.
type FileSet []File
