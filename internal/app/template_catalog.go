package app

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	"github.com/yungbote/pdfsum-backend/internal/domain/templates"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

//go:embed templates/*.yaml
var builtinTemplates embed.FS

// LoadTemplateCatalog reads every *.yaml/*.yml template in fsys, in name order.
func LoadTemplateCatalog(fsys fs.FS) ([]*templates.Template, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read template dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(path.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]*templates.Template, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var r templates.Raw
		if err := yaml.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		tpl, err := templates.Normalize(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, tpl)
	}
	return out, nil
}

// SeedTemplates upserts the built-in catalog and then dir (when set), so a
// file in dir replaces a built-in template with the same name.
func SeedTemplates(ctx context.Context, log *logger.Logger, repo repos.TemplateRepo, dir string) (int, error) {
	builtin, err := fs.Sub(builtinTemplates, "templates")
	if err != nil {
		return 0, err
	}
	sources := []fs.FS{builtin}
	if strings.TrimSpace(dir) != "" {
		sources = append(sources, os.DirFS(dir))
	}
	n := 0
	for _, src := range sources {
		tpls, err := LoadTemplateCatalog(src)
		if err != nil {
			return n, err
		}
		for _, tpl := range tpls {
			if _, err := repo.UpsertByName(dbctx.Context{Ctx: ctx}, tpl); err != nil {
				return n, fmt.Errorf("upsert template %q: %w", tpl.Name, err)
			}
			n++
		}
	}
	log.Info("Templates seeded", "count", n, "dir", dir)
	return n, nil
}
