package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"rolecraft/internal/config"
	"rolecraft/internal/graph"
	"rolecraft/internal/parser"
)

// Source is the merged graph document read from the configured snapshot
// file and lore markdown directories, with the content hash of each file.
type Source struct {
	Document     graph.Document
	Hashes       map[string]string
	FilesSkipped int
	Errors       []error
}

// Load reads the snapshot file (if any) followed by every lore markdown
// file under the configured source roots. Files without frontmatter or
// without a type are skipped; other parse failures are collected.
func Load(cfg config.GraphConfig) (*Source, error) {
	src := &Source{
		Document: graph.Document{Version: 1},
		Hashes:   make(map[string]string),
	}

	if cfg.Snapshot != "" {
		hash, err := computeHash(cfg.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("hashing snapshot: %w", err)
		}
		doc, err := graph.ReadDocument(cfg.Snapshot)
		if err != nil {
			return nil, err
		}
		src.Hashes[cfg.Snapshot] = hash
		src.Document.Entities = append(src.Document.Entities, doc.Entities...)
		src.Document.Relationships = append(src.Document.Relationships, doc.Relationships...)
		src.Document.Communities = append(src.Document.Communities, doc.Communities...)
	}

	files, err := walkMarkdownFiles(cfg.Sources, cfg.Exclude)
	if err != nil {
		return nil, fmt.Errorf("walking lore sources: %w", err)
	}

	for _, path := range files {
		hash, err := computeHash(path)
		if err != nil {
			src.Errors = append(src.Errors, fmt.Errorf("hashing %s: %w", path, err))
			continue
		}

		doc, err := parser.ParseFile(path)
		if err != nil {
			if errors.Is(err, parser.ErrNoFrontmatter) || errors.Is(err, parser.ErrMissingType) {
				src.FilesSkipped++
				continue
			}
			src.Errors = append(src.Errors, fmt.Errorf("parsing %s: %w", path, err))
			continue
		}

		src.Hashes[path] = hash
		switch {
		case doc.Community != nil:
			src.Document.Communities = append(src.Document.Communities, *doc.Community)
		case doc.Entity != nil:
			src.Document.Entities = append(src.Document.Entities, *doc.Entity)
			src.Document.Relationships = append(src.Document.Relationships, doc.Relationships...)
		}
	}

	return src, nil
}

func walkMarkdownFiles(roots []string, excludes []string) ([]string, error) {
	excluded := make([]string, 0, len(excludes))
	for _, path := range excludes {
		if path == "" {
			continue
		}
		excluded = append(excluded, filepath.Clean(path))
	}

	var files []string
	for _, root := range roots {
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if isExcluded(path, excluded) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
				return nil
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

func isExcluded(path string, excludes []string) bool {
	clean := filepath.Clean(path)
	for _, exclude := range excludes {
		if exclude == clean || strings.HasPrefix(clean, exclude+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

func computeHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
