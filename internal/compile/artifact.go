package compile

import (
	"os"
	"path/filepath"
	"strings"
)

// defaultStem is used when the main file name has no usable stem.
const defaultStem = "main"

// Stem returns the name of mainFile without its extension.
// A leading dot doesn't start an extension, so ".tex" is its own stem.
func Stem(mainFile string) string {
	base := filepath.Base(mainFile)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return defaultStem
	}

	stem := base
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		stem = base[:i]
	}
	if strings.TrimSpace(stem) == "" {
		return defaultStem
	}
	return stem
}

// Artifact is a file the build tool is expected to write.
type Artifact struct {
	Path string
	Size int64
}

// Artifacts returns the expected PDF and log paths in buildDir for mainFile.
func Artifacts(buildDir, mainFile string) (pdfFile, logFile string) {
	stem := Stem(mainFile)
	return filepath.Join(buildDir, stem+".pdf"), filepath.Join(buildDir, stem+".log")
}

// statArtifact returns the artifact at path, or nil if no regular file is there.
func statArtifact(path string) *Artifact {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	return &Artifact{Path: path, Size: info.Size()}
}
