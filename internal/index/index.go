// Package index implements the "index a directory" contract spec.md §1
// specifies only at its interface: walk a root_path's file tree, parse
// filenames into (document, flavor, override path) triples per §6 Input
// validation, and decode YAML content into element.Element values.
package index

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/vitaliisemenov/mhconf/internal/element"
	"github.com/vitaliisemenov/mhconf/internal/intern"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
	"github.com/vitaliisemenov/mhconf/internal/yamlvalue"
)

// TemplateKind distinguishes the three "_"-prefixed template filename
// forms §6 names: _text.<name>.<ext>, _bin.<name>.<ext>, _tmpl.<name>.<ext>.
type TemplateKind string

const (
	TemplateNone TemplateKind = ""
	TemplateText TemplateKind = "text"
	TemplateBin  TemplateKind = "bin"
	TemplateTmpl TemplateKind = "tmpl"
)

// File is one indexed source file: its document identity, the override
// path it contributes at, the labels its directory segments encode, and
// its decoded content with any non-fatal decode warnings. A file that
// fails to parse is not represented here: the index call returns an error.
type File struct {
	RelPath      string
	OverridePath string // directory portion of RelPath, the override-precedence unit
	Document     string
	Flavor       string
	Template     TemplateKind
	Labels       nsconfig.Labels
	Rank         int
	Value        element.Element
	Warnings     []yamlvalue.Warning
}

// Indexer walks a root path through an afero.Fs, decoding every
// qualifying YAML file into a File. The default filesystem is the OS
// filesystem (afero.NewOsFs()); tests substitute afero.NewMemMapFs().
type Indexer struct {
	FS   afero.Fs
	Pool *intern.Pool
}

// NewIndexer constructs an Indexer backed by fs, interning strings
// through pool.
func NewIndexer(fs afero.Fs, pool *intern.Pool) *Indexer {
	return &Indexer{FS: fs, Pool: pool}
}

// IndexAll walks every file under root, returning one File per
// qualifying entry (dotfiles and non-.yaml files are skipped silently),
// in deterministic path order. RawConfig.ID allocation happens later,
// when the coordinator diffs these Files against the current document
// model (§4.E.1 steps 2-3).
func (ix *Indexer) IndexAll(root string) ([]File, error) {
	var relPaths []string
	err := afero.Walk(ix.FS, root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info == nil || info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPaths = append(relPaths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(relPaths)

	var out []File
	for _, rel := range relPaths {
		f, skip, err := ix.indexOne(root, rel)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", rel, err)
		}
		if skip {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// IndexPaths indexes only the given root-relative paths (§4.E.1
// "otherwise only the listed paths are indexed"). A path that no longer
// exists is skipped without a File or an error; callers that need to
// detect deletions check existence themselves.
func (ix *Indexer) IndexPaths(root string, relPaths []string) ([]File, error) {
	sorted := append([]string(nil), relPaths...)
	sort.Strings(sorted)

	var out []File
	for _, rel := range sorted {
		exists, err := afero.Exists(ix.FS, filepath.Join(root, rel))
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		f, skip, err := ix.indexOne(root, rel)
		if err != nil {
			return nil, fmt.Errorf("index %s: %w", rel, err)
		}
		if skip {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// Identity parses rel's filename and directory into the (document,
// flavor, labels, rank) it would index to, without touching file
// content. The update coordinator uses this to identify which override
// entry a path that no longer exists used to occupy (§4.E.1 step 3
// deletions), since that identity comes entirely from the path, not the
// content.
func Identity(rel string) (document, flavor string, labels nsconfig.Labels, rank int, skip bool, err error) {
	id, sk, err := parseIdentity(rel)
	if err != nil || sk {
		return "", "", nsconfig.Labels{}, 0, true, err
	}
	return id.document, id.flavor, id.labels, id.rank, false, nil
}

type identity struct {
	document, flavor string
	template         TemplateKind
	labels           nsconfig.Labels
	rank             int
	dir              string
}

func parseIdentity(rel string) (identity, bool, error) {
	base := filepath.Base(rel)
	if strings.HasPrefix(base, ".") {
		return identity{}, true, nil
	}

	dir := filepath.Dir(rel)
	if dir == "." {
		dir = ""
	}

	var tmplKind TemplateKind
	name := base
	if strings.HasPrefix(base, "_") {
		switch {
		case strings.HasPrefix(base, "_text."):
			tmplKind, name = TemplateText, strings.TrimPrefix(base, "_text.")
		case strings.HasPrefix(base, "_bin."):
			tmplKind, name = TemplateBin, strings.TrimPrefix(base, "_bin.")
		case strings.HasPrefix(base, "_tmpl."):
			tmplKind, name = TemplateTmpl, strings.TrimPrefix(base, "_tmpl.")
		default:
			return identity{}, true, nil
		}
	}

	if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
		return identity{}, true, nil
	}
	stem := strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")

	document, flavor := stem, ""
	if i := strings.LastIndex(stem, "."); i >= 0 {
		document, flavor = stem[:i], stem[i+1:]
	}
	if document == "" {
		return identity{}, true, fmt.Errorf("empty document name for %s", rel)
	}

	labels, rank, err := parseLabelSegments(dir)
	if err != nil {
		return identity{}, true, err
	}

	return identity{document: document, flavor: flavor, template: tmplKind, labels: labels, rank: rank, dir: dir}, false, nil
}

func (ix *Indexer) indexOne(root, rel string) (File, bool, error) {
	id, skip, err := parseIdentity(rel)
	if err != nil || skip {
		return File{}, true, err
	}
	document, flavor, tmplKind, labels, rank, dir := id.document, id.flavor, id.template, id.labels, id.rank, id.dir

	content, err := afero.ReadFile(ix.FS, filepath.Join(root, rel))
	if err != nil {
		return File{}, false, err
	}

	var doc yaml.Node
	var value element.Element
	var warnings []yamlvalue.Warning
	if len(strings.TrimSpace(string(content))) > 0 {
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return File{}, false, fmt.Errorf("parse yaml: %w", err)
		}
		dec := yamlvalue.NewDecoder(ix.Pool, 0, 0)
		value, err = dec.DecodeDocument(&doc)
		if err != nil {
			return File{}, false, err
		}
		warnings = dec.Warnings
	} else {
		value = element.None
	}

	return File{
		RelPath:      rel,
		OverridePath: dir,
		Document:     document,
		Flavor:       flavor,
		Template:     tmplKind,
		Labels:       labels,
		Rank:         rank,
		Value:        value,
		Warnings:     warnings,
	}, false, nil
}

// parseLabelSegments decodes a directory path's "key=value" segments
// into a sorted Labels set and the override's precedence rank (the
// segment count, per SPEC_FULL.md Open Question 1 decision).
func parseLabelSegments(dir string) (nsconfig.Labels, int, error) {
	if dir == "" {
		return nsconfig.NewLabels(nil), 0, nil
	}
	parts := strings.Split(filepath.ToSlash(dir), "/")
	labels := make([]nsconfig.Label, 0, len(parts))
	for _, p := range parts {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nsconfig.Labels{}, 0, fmt.Errorf("override directory segment %q is not key=value", p)
		}
		labels = append(labels, nsconfig.Label{Key: kv[0], Value: kv[1]})
	}
	return nsconfig.NewLabels(labels), len(parts), nil
}
