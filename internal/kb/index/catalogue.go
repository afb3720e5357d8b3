package index

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogueEntry 分类目录中的一项。
type CatalogueEntry struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Catalogue 启动时预置的分类目录。
type Catalogue struct {
	Categories []CatalogueEntry `yaml:"categories"`
}

// LoadCatalogue 读取 YAML 分类目录。
func LoadCatalogue(path string) (*Catalogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue 解析 YAML 分类目录，拒绝重复或非法的类别名。
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var c Catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalogue: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Categories))
	for i, e := range c.Categories {
		if e.Name == "" {
			return nil, fmt.Errorf("catalogue entry %d has no name", i)
		}
		if _, ok := seen[e.Name]; ok {
			return nil, fmt.Errorf("catalogue lists %q twice", e.Name)
		}
		seen[e.Name] = struct{}{}
	}
	return &c, nil
}

// Seed 将目录中的类别登记到注册表。
func (r *Registry) Seed(ctx context.Context, c *Catalogue) error {
	if c == nil {
		return nil
	}
	for _, e := range c.Categories {
		if err := r.Register(ctx, e.Name, e.Description); err != nil {
			return fmt.Errorf("seed category %q: %w", e.Name, err)
		}
	}
	return nil
}
