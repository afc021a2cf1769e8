package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNoVendor means a conversation context does not lead to any vendor.
var ErrNoVendor = errors.New("context resolves to no vendor")

// Shop is a storefront owned by one vendor.
type Shop struct {
	ID       string `yaml:"id"`
	VendorID string `yaml:"vendorId"`
}

// Product is listed in exactly one shop.
type Product struct {
	ID     string `yaml:"id"`
	ShopID string `yaml:"shopId"`
}

// Catalog is the read-only product and shop directory used to decide who
// the vendor side of a conversation is.
type Catalog struct {
	Shops    []Shop    `yaml:"shops"`
	Products []Product `yaml:"products"`

	shops    map[string]Shop
	products map[string]Product
}

// LoadCatalog reads a catalog file. An empty path yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(nil, nil)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog file not found: %s", path)
		}
		return nil, err
	}
	return ParseCatalog(b)
}

// ParseCatalog decodes catalog YAML.
func ParseCatalog(b []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return NewCatalog(c.Shops, c.Products)
}

// NewCatalog indexes shops and products and checks that every product
// points at a known shop.
func NewCatalog(shops []Shop, products []Product) (*Catalog, error) {
	c := &Catalog{
		Shops:    shops,
		Products: products,
		shops:    make(map[string]Shop, len(shops)),
		products: make(map[string]Product, len(products)),
	}
	for _, s := range shops {
		if s.ID == "" || s.VendorID == "" {
			return nil, fmt.Errorf("catalog: shop needs id and vendorId")
		}
		if _, dup := c.shops[s.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate shop %q", s.ID)
		}
		c.shops[s.ID] = s
	}
	for _, p := range products {
		if p.ID == "" {
			return nil, fmt.Errorf("catalog: product needs an id")
		}
		if _, ok := c.shops[p.ShopID]; !ok {
			return nil, fmt.Errorf("catalog: product %q references unknown shop %q", p.ID, p.ShopID)
		}
		if _, dup := c.products[p.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate product %q", p.ID)
		}
		c.products[p.ID] = p
	}
	return c, nil
}

// ResolveVendor returns the vendor and shop for a conversation context.
// A product implies its shop; a shop given alongside must agree with it.
func (c *Catalog) ResolveVendor(productID, shopID string) (vendorID, resolvedShopID string, err error) {
	if productID != "" {
		p, ok := c.products[productID]
		if !ok {
			return "", "", fmt.Errorf("%w: unknown product %q", ErrNoVendor, productID)
		}
		if shopID != "" && shopID != p.ShopID {
			return "", "", fmt.Errorf("%w: product %q is not sold by shop %q", ErrNoVendor, productID, shopID)
		}
		shopID = p.ShopID
	}
	if shopID == "" {
		return "", "", fmt.Errorf("%w: no product or shop given", ErrNoVendor)
	}
	s, ok := c.shops[shopID]
	if !ok {
		return "", "", fmt.Errorf("%w: unknown shop %q", ErrNoVendor, shopID)
	}
	return s.VendorID, s.ID, nil
}
