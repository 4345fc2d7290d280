package domain

// Product is a catalog entry. The catalog itself is a simple keyed lookup
// by product id and SKU; storage and shipping rules live outside this
// module.
type Product struct {
	ID          string   `json:"id"`
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Price       Amount   `json:"price"`
	Refundable  bool     `json:"refundable"`
	Stock       int      `json:"stock"`
}

// InStock reports whether at least qty units are available.
func (p *Product) InStock(qty int) bool {
	return p.Stock >= qty
}
