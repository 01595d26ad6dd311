package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoreFilter は .ragignore のパターンマッチングを提供する
type ignoreFilter struct {
	patterns *gitignore.GitIgnore
}

func newIgnoreFilter(root string) (*ignoreFilter, error) {
	content, err := os.ReadFile(filepath.Join(root, IgnoreFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return &ignoreFilter{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", IgnoreFileName, err)
	}

	var patterns []string
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if len(patterns) == 0 {
		return &ignoreFilter{}, nil
	}

	return &ignoreFilter{patterns: gitignore.CompileIgnoreLines(patterns...)}, nil
}

// ShouldIgnore はパスが除外対象かどうかを判定する
func (f *ignoreFilter) ShouldIgnore(path string) bool {
	if f.patterns == nil {
		return false
	}
	return f.patterns.MatchesPath(path)
}
