package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
	"oraclelumira/pkg/domain"
)

// Catalog is the static product/price table. It is built once at startup and
// passed to handlers by reference; nothing mutates it afterwards.
type Catalog struct {
	products map[string]domain.Product
	ids      []string
}

type catalogFile struct {
	Products []domain.Product `yaml:"products"`
}

// Load reads the catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return New(file.Products)
}

// New builds a catalog from product entries.
func New(products []domain.Product) (*Catalog, error) {
	if len(products) == 0 {
		return nil, errors.New("catalog: at least one product is required")
	}
	byID := make(map[string]domain.Product, len(products))
	ids := make([]string, 0, len(products))
	for _, p := range products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, errors.New("catalog: product id is required")
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate product id %q", id)
		}
		if p.Amount <= 0 {
			return nil, fmt.Errorf("catalog: product %q amount must be positive", id)
		}
		if strings.TrimSpace(p.Currency) == "" {
			return nil, fmt.Errorf("catalog: product %q currency is required", id)
		}
		p.ID = id
		p.Currency = strings.ToLower(strings.TrimSpace(p.Currency))
		byID[id] = p
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &Catalog{products: byID, ids: ids}, nil
}

// Get returns the product for id.
func (c *Catalog) Get(id string) (domain.Product, bool) {
	p, ok := c.products[id]
	return p, ok
}

// Validate reports whether id names a sellable product.
func (c *Catalog) Validate(id string) bool {
	_, ok := c.products[id]
	return ok
}

// ListAll returns all products sorted by id.
func (c *Catalog) ListAll() []domain.Product {
	out := make([]domain.Product, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.products[id])
	}
	return out
}

// IDs returns the sorted list of valid product ids.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// FormatAmount renders a minor-unit amount for display, French style
// ("99,00 €" for 9900 eur). Presentation helper only.
func FormatAmount(amount int64, currency string) string {
	units := amount / 100
	cents := amount % 100
	if cents < 0 {
		cents = -cents
	}
	symbol := strings.ToUpper(currency)
	if strings.EqualFold(currency, "eur") {
		symbol = "€"
	}
	return fmt.Sprintf("%d,%02d %s", units, cents, symbol)
}
