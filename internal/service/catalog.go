package service

import (
	"sort"
	"strings"
	"sync"

	"ap2-payments/internal/core/domain"
	"ap2-payments/pkg/apperror"
)

// Catalog is the merchant's product lookup, keyed by product id and SKU.
// Inventory counts live here too; real storage is out of scope.
type Catalog struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Product
	bySKU    map[string]*domain.Product
	ordered  []string // insertion order for stable listings
}

// NewCatalog creates a catalog seeded with products.
func NewCatalog(products []domain.Product) *Catalog {
	c := &Catalog{
		byID:  make(map[string]*domain.Product),
		bySKU: make(map[string]*domain.Product),
	}
	for i := range products {
		p := products[i]
		c.byID[p.ID] = &p
		c.bySKU[p.SKU] = &p
		c.ordered = append(c.ordered, p.ID)
	}
	return c
}

// DefaultCatalog seeds the demo inventory.
func DefaultCatalog() *Catalog {
	return NewCatalog([]domain.Product{
		{
			ID: "prod_001", SKU: "SHOE-001", Name: "Red basketball shoe",
			Description: "High-top retro basketball shoe, red",
			Category:    "shoes", Keywords: []string{"red", "basketball", "shoe", "shoes", "sneaker"},
			Price: domain.Amount{Currency: "JPY", Value: 8000}, Refundable: true, Stock: 24,
		},
		{
			ID: "prod_002", SKU: "SHOE-002", Name: "White running shoe",
			Description: "Lightweight mesh running shoe",
			Category:    "shoes", Keywords: []string{"white", "running", "shoe", "shoes"},
			Price: domain.Amount{Currency: "JPY", Value: 12000}, Refundable: true, Stock: 12,
		},
		{
			ID: "prod_003", SKU: "SHIRT-001", Name: "Logo t-shirt",
			Description: "Cotton t-shirt with shop logo",
			Category:    "apparel", Keywords: []string{"shirt", "tshirt", "cotton", "apparel"},
			Price: domain.Amount{Currency: "JPY", Value: 3500}, Refundable: true, Stock: 50,
		},
		{
			ID: "prod_004", SKU: "MUG-001", Name: "Ceramic mug",
			Description: "350ml ceramic mug",
			Category:    "goods", Keywords: []string{"mug", "cup", "ceramic", "goods"},
			Price: domain.Amount{Currency: "JPY", Value: 1800}, Refundable: false, Stock: 80,
		},
		{
			ID: "prod_005", SKU: "BAG-001", Name: "Canvas tote bag",
			Description: "Heavy canvas tote",
			Category:    "goods", Keywords: []string{"bag", "tote", "canvas", "goods"},
			Price: domain.Amount{Currency: "JPY", Value: 2600}, Refundable: true, Stock: 35,
		},
	})
}

// GetByID returns a product copy; NotFound when absent.
func (c *Catalog) GetByID(id string) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	if !ok {
		return nil, apperror.ErrNotFound("product")
	}
	out := *p
	return &out, nil
}

// GetBySKU returns a product copy; NotFound when absent.
func (c *Catalog) GetBySKU(sku string) (*domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.bySKU[sku]
	if !ok {
		return nil, apperror.ErrNotFound("product")
	}
	out := *p
	return &out, nil
}

// Search ranks products against keywords: matches in name weigh 3, in
// keywords 2, in category or description 1. Results are score-descending,
// price-ascending, capped at limit.
func (c *Catalog) Search(keywords []string, category string, limit int) []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	type scored struct {
		p     domain.Product
		score int
	}
	var hits []scored

	for _, id := range c.ordered {
		p := c.byID[id]
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		score := 0
		for _, kw := range keywords {
			kw = strings.ToLower(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(strings.ToLower(p.Name), kw) {
				score += 3
			}
			for _, pk := range p.Keywords {
				if strings.Contains(strings.ToLower(pk), kw) {
					score += 2
					break
				}
			}
			if strings.Contains(strings.ToLower(p.Category), kw) ||
				strings.Contains(strings.ToLower(p.Description), kw) {
				score++
			}
		}
		if score > 0 || len(keywords) == 0 {
			hits = append(hits, scored{p: *p, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].p.Price.Value < hits[j].p.Price.Value
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]domain.Product, len(hits))
	for i, h := range hits {
		out[i] = h.p
	}
	return out
}

// List returns all products in insertion order.
func (c *Catalog) List() []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Product, 0, len(c.ordered))
	for _, id := range c.ordered {
		out = append(out, *c.byID[id])
	}
	return out
}

// UpdateStock sets a product's stock count.
func (c *Catalog) UpdateStock(id string, stock int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byID[id]
	if !ok {
		return apperror.ErrNotFound("product")
	}
	if stock < 0 {
		return apperror.Validation("stock cannot be negative")
	}
	p.Stock = stock
	return nil
}
