package storage

import (
	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/shopspring/decimal"
)

// A document is the stored shape of a product:
//
//	{id, name, category, price, offerPercentage|null, description|null,
//	 colors|null, sizes|null, images}
type document struct {
	ID              string   `bson:"id" json:"id"`
	Name            string   `bson:"name" json:"name"`
	Category        string   `bson:"category" json:"category"`
	Price           float64  `bson:"price" json:"price"`
	OfferPercentage *float64 `bson:"offerPercentage" json:"offerPercentage"`
	Description     *string  `bson:"description" json:"description"`
	Colors          []int64  `bson:"colors" json:"colors"`
	Sizes           []string `bson:"sizes" json:"sizes"`
	Images          []string `bson:"images" json:"images"`
}

func toDocument(p domain.Product) document {
	d := document{
		ID:          p.ID,
		Name:        p.Name,
		Category:    p.Category,
		Price:       p.Price.InexactFloat64(),
		Description: p.Description,
		Sizes:       p.Sizes,
		Images:      p.Images,
	}

	if d.Images == nil {
		d.Images = []string{}
	}

	if p.OfferPercentage != nil {
		offer := p.OfferPercentage.InexactFloat64()
		d.OfferPercentage = &offer
	}

	if p.Colors != nil {
		d.Colors = make([]int64, len(p.Colors))
		for i, c := range p.Colors {
			d.Colors[i] = int64(c)
		}
	}
	return d
}

func (d document) toDomain() domain.Product {
	p := domain.Product{
		ID:          d.ID,
		Name:        d.Name,
		Category:    d.Category,
		Price:       decimal.NewFromFloat(d.Price),
		Description: d.Description,
		Sizes:       d.Sizes,
		Images:      d.Images,
	}

	if d.OfferPercentage != nil {
		offer := decimal.NewFromFloat(*d.OfferPercentage)
		p.OfferPercentage = &offer
	}

	if d.Colors != nil {
		p.Colors = make([]domain.Color, len(d.Colors))
		for i, c := range d.Colors {
			p.Colors[i] = domain.Color(uint32(c))
		}
	}
	return p
}
