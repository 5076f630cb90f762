// Package catalog holds the subscription products a merchant can buy and
// the agent variant each one provisions.
package catalog

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/agentdesk/internal/composer"
)

// DefaultProductID is provisioned when a checkout does not name a product.
const DefaultProductID = "inbound_sales_agent"

//go:embed products.yaml
var productsYAML []byte

type Product struct {
	ID             string           `yaml:"id" json:"id"`
	Name           string           `yaml:"name" json:"name"`
	Price          float64          `yaml:"price" json:"price"`
	PriceID        string           `yaml:"price_id" json:"price_id"`
	BillingCycle   string           `yaml:"billing_cycle" json:"billing_cycle"`
	Description    string           `yaml:"description" json:"description"`
	Features       []string         `yaml:"features" json:"features"`
	RequiresPolicy bool             `yaml:"requires_policy" json:"requires_policy"`
	Variant        composer.Variant `yaml:"-" json:"variant"`
}

type Catalog struct {
	products []Product
	byID     map[string]int
}

// Load parses the embedded product list.
func Load() (*Catalog, error) {
	return Parse(productsYAML)
}

// Parse builds a catalog from YAML. Every product id must be unique and
// resolve to an agent variant.
func Parse(data []byte) (*Catalog, error) {
	var doc struct {
		Products []Product `yaml:"products"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(doc.Products) == 0 {
		return nil, fmt.Errorf("catalog has no products")
	}

	c := &Catalog{byID: make(map[string]int, len(doc.Products))}
	for i, p := range doc.Products {
		p.ID = strings.TrimSpace(p.ID)
		if p.ID == "" {
			return nil, fmt.Errorf("catalog product %d has no id", i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog product %q", p.ID)
		}
		v, ok := composer.VariantForProduct(p.ID)
		if !ok {
			return nil, fmt.Errorf("catalog product %q does not name an agent variant", p.ID)
		}
		p.Variant = v
		c.byID[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}
	return c, nil
}

// MustLoad is Load for package initialization; it panics on a bad catalog.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) ByID(id string) (Product, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Product{}, false
	}
	return c.products[i], true
}

func (c *Catalog) ByPriceID(priceID string) (Product, bool) {
	for _, p := range c.products {
		if p.PriceID == priceID {
			return p, true
		}
	}
	return Product{}, false
}

// All returns the products in catalog order.
func (c *Catalog) All() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// RequiresPolicy reports whether setting up productID requires a policy
// document for the knowledge base. Unknown products do not.
func (c *Catalog) RequiresPolicy(productID string) bool {
	p, ok := c.ByID(productID)
	return ok && p.RequiresPolicy
}
