package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// ProductsCollection is the document store collection products are written to.
	ProductsCollection = "products"

	// ImagesKeyPrefix namespaces uploaded product images in the object store.
	ImagesKeyPrefix = "products/images/"
)

// An ImageRef is an opaque handle to a locally available image,
// e.g. "file:///tmp/upload-1.png" or "https://cdn.example.com/a.jpg".
type ImageRef string

// A Color is a packed ARGB value.
type Color uint32

// Hex renders the color as eight lowercase hex digits (aarrggbb).
func (c Color) Hex() string {
	return fmt.Sprintf("%08x", uint32(c))
}

type (
	// A Draft is user-entered product data prior to persistence.
	//
	// Price and OfferPercentage keep the raw user text: they are parsed
	// during record assembly, after every image upload has settled.
	Draft struct {
		Name            string
		Category        string
		Price           string
		OfferPercentage string
		Description     string
		Sizes           []string
		Colors          []Color
		ImageRefs       []ImageRef
	}

	// A Product is the record written to the document store.
	//
	// Nil pointers and nil slices are stored as null.
	Product struct {
		ID              string
		Name            string
		Category        string
		Price           decimal.Decimal
		OfferPercentage *decimal.Decimal
		Description     *string
		Colors          []Color
		Sizes           []string
		Images          []string
	}

	// An ObjectHandle identifies an object written to the object store.
	ObjectHandle struct {
		Key  string
		Size int64
		ETag string
	}

	// An UploadResult is the settled state of a single image upload.
	//
	// Exactly one of URL and Err is set.
	UploadResult struct {
		Ref ImageRef
		Key string
		URL string
		Err error
	}
)

func (r UploadResult) OK() bool {
	return r.Err == nil
}

// An Outcome is the single result of a submission.
//
// Requested is the number of image references the draft carried,
// so Requested - len(Product.Images) images were dropped.
type Outcome struct {
	Product    Product
	DocumentID string
	Requested  int
	Err        error
}

func (o Outcome) Success() bool {
	return o.Err == nil
}

// Dropped returns the number of images that failed to upload.
func (o Outcome) Dropped() int {
	if !o.Success() {
		return 0
	}
	return o.Requested - len(o.Product.Images)
}

// CategoryStats aggregates submission outcomes of a single category.
type CategoryStats struct {
	Category        string
	Submitted       int64
	Succeeded       int64
	Failed          int64
	ImagesRequested int64
	ImagesUploaded  int64
}

// Apply folds the outcome into the stats.
func (s CategoryStats) Apply(o Outcome) CategoryStats {
	s.Submitted++
	s.ImagesRequested += int64(o.Requested)
	if o.Success() {
		s.Succeeded++
		s.ImagesUploaded += int64(len(o.Product.Images))
		return s
	}
	s.Failed++
	return s
}
