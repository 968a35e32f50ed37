package resolution

// DirectoryWatch tracks how many live resolutions depend on a watched
// directory. It exists iff RefCount > 0.
type DirectoryWatch struct {
	RefCount  int
	Recursive bool
}

// FileWatch tracks every dependent of a watched file path: resolutions whose
// affecting locations include it, source files registered against it
// directly, and symlink spellings that reach it.
type FileWatch struct {
	Resolutions map[*Entry]struct{}
	Files       map[string]struct{}
	Symlinks    map[string]struct{}
}

func newFileWatch() *FileWatch {
	return &FileWatch{
		Resolutions: make(map[*Entry]struct{}),
		Files:       make(map[string]struct{}),
		Symlinks:    make(map[string]struct{}),
	}
}

func (w *FileWatch) unreferenced() bool {
	return len(w.Resolutions) == 0 && len(w.Files) == 0
}
