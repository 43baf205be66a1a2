package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// A DraftInput is the raw field set supplied by an input collector.
type DraftInput struct {
	Name            string
	Category        string
	Price           string
	OfferPercentage string
	Description     string
	Sizes           string
	Colors          []Color
	ImageRefs       []ImageRef
}

// NewDraft is the validation gate run by input collectors before a draft
// is submitted. Every text field is trimmed. Name, category and price are
// required and at least one image reference must be present.
//
// Price parseability is not checked here.
func NewDraft(in DraftInput) (Draft, error) {
	d := Draft{
		Name:            strings.TrimSpace(in.Name),
		Category:        strings.TrimSpace(in.Category),
		Price:           strings.TrimSpace(in.Price),
		OfferPercentage: strings.TrimSpace(in.OfferPercentage),
		Description:     strings.TrimSpace(in.Description),
		Sizes:           SizesList(in.Sizes),
	}

	if len(in.Colors) != 0 {
		d.Colors = append([]Color(nil), in.Colors...)
	}

	verr := new(ValidationError)
	if d.Name == "" {
		verr.add("name", "required")
	}
	if d.Category == "" {
		verr.add("category", "required")
	}
	if d.Price == "" {
		verr.add("price", "required")
	}

	if len(in.ImageRefs) == 0 {
		verr.add("images", "at least one image is required")
	}
	for i, ref := range in.ImageRefs {
		ref = ImageRef(strings.TrimSpace(string(ref)))
		if ref == "" {
			verr.add(fmt.Sprintf("images[%d]", i), "empty reference")
			continue
		}
		d.ImageRefs = append(d.ImageRefs, ref)
	}

	if len(verr.Problems) != 0 {
		return Draft{}, verr
	}
	return d, nil
}

// SizesList splits a comma delimited sizes string and trims every token.
// Empty tokens are kept, so "S,,M" has three sizes. Blank input yields nil,
// never an empty list.
func SizesList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	sizes := strings.Split(s, ",")
	for i, token := range sizes {
		sizes[i] = strings.TrimSpace(token)
	}
	return sizes
}

var errColorFormat = errors.New("color must be #rrggbb, #aarrggbb or an integer")

// ParseColor accepts "#rrggbb", "#aarrggbb" or a decimal integer. The "#"
// or "0x" prefix is optional for 6 or 8 hex digits that hold at least one
// letter; digits only without a prefix are read as a decimal integer.
// Six hex digits get an opaque alpha.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errColorFormat
	}

	hex, isHex := strings.CutPrefix(s, "#")
	if !isHex {
		hex, isHex = strings.CutPrefix(strings.ToLower(s), "0x")
	}
	if !isHex && bareHex(s) {
		hex, isHex = s, true
	}

	if !isHex {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < -1<<31 || v > 1<<32-1 {
			return 0, errColorFormat
		}
		return Color(uint32(v)), nil
	}

	switch len(hex) {
	case 6:
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, errColorFormat
		}
		return Color(0xff000000 | uint32(v)), nil
	case 8:
		v, err := strconv.ParseUint(hex, 16, 32)
		if err != nil {
			return 0, errColorFormat
		}
		return Color(v), nil
	default:
		return 0, errColorFormat
	}
}

// bareHex reports whether s is 6 or 8 hex digits with a letter among them.
func bareHex(s string) bool {
	if len(s) != 6 && len(s) != 8 {
		return false
	}
	letter := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			letter = true
		default:
			return false
		}
	}
	return letter
}
