package httphandler

import (
	"github.com/niksmo/product-intake/internal/core/domain"
	"github.com/shopspring/decimal"
)

type (
	// A DraftRequest is the JSON form of a product submission.
	// ImageRefs are "file://" or "http(s)://" URIs.
	DraftRequest struct {
		Name            string   `json:"name"`
		Category        string   `json:"category"`
		Price           string   `json:"price"`
		OfferPercentage string   `json:"offer_percentage"`
		Description     string   `json:"description"`
		Sizes           string   `json:"sizes"`
		Colors          []string `json:"colors"`
		ImageRefs       []string `json:"image_refs"`
	}

	Product struct {
		ID              string           `json:"id"`
		Name            string           `json:"name"`
		Category        string           `json:"category"`
		Price           decimal.Decimal  `json:"price"`
		OfferPercentage *decimal.Decimal `json:"offer_percentage"`
		Description     *string          `json:"description"`
		Colors          []string         `json:"colors"`
		Sizes           []string         `json:"sizes"`
		Images          []string         `json:"images"`
	}

	Submission struct {
		DocumentID string  `json:"document_id"`
		Product    Product `json:"product"`
	}

	Problem struct {
		Field  string `json:"field"`
		Reason string `json:"reason"`
	}

	ErrorResponse struct {
		Error    string    `json:"error"`
		Problems []Problem `json:"problems,omitempty"`
	}

	CategoryStats struct {
		Category        string `json:"category"`
		Submitted       int64  `json:"submitted"`
		Succeeded       int64  `json:"succeeded"`
		Failed          int64  `json:"failed"`
		ImagesRequested int64  `json:"images_requested"`
		ImagesUploaded  int64  `json:"images_uploaded"`
	}
)

func productFromDomain(p domain.Product) Product {
	v := Product{
		ID:              p.ID,
		Name:            p.Name,
		Category:        p.Category,
		Price:           p.Price,
		OfferPercentage: p.OfferPercentage,
		Description:     p.Description,
		Sizes:           p.Sizes,
		Images:          p.Images,
	}

	if p.Colors != nil {
		v.Colors = make([]string, len(p.Colors))
		for i, c := range p.Colors {
			v.Colors[i] = "#" + c.Hex()
		}
	}

	if v.Images == nil {
		v.Images = []string{}
	}
	return v
}

func statsFromDomain(s domain.CategoryStats) CategoryStats {
	return CategoryStats{
		Category:        s.Category,
		Submitted:       s.Submitted,
		Succeeded:       s.Succeeded,
		Failed:          s.Failed,
		ImagesRequested: s.ImagesRequested,
		ImagesUploaded:  s.ImagesUploaded,
	}
}
