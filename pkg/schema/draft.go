package schema

import "github.com/hamba/avro/v2"

const DraftSchemaTextV1 = `{
	"type": "record",
	"namespace": "intake",
	"name": "draft",
	"fields" : [
		{"name": "submission_id", "type": "string"},
		{"name": "name", "type": "string"},
		{"name": "category", "type": "string"},
		{"name": "price", "type": "string"},
		{"name": "offer_percentage", "type": "string", "default": ""},
		{"name": "description", "type": "string", "default": ""},
		{"name": "sizes", "type": "string", "default": ""},
		{"name": "colors", "type": {"type": "array", "items": "long"}, "default": []},
		{"name": "image_refs", "type": {"type": "array", "items": "string"}}
	]
}`

// A DraftV1 is a product draft submitted through the drafts topic.
//
// Every field keeps the raw user input; colors are packed ARGB values.
type DraftV1 struct {
	SubmissionID    string   `avro:"submission_id"`
	Name            string   `avro:"name"`
	Category        string   `avro:"category"`
	Price           string   `avro:"price"`
	OfferPercentage string   `avro:"offer_percentage"`
	Description     string   `avro:"description"`
	Sizes           string   `avro:"sizes"`
	Colors          []int64  `avro:"colors"`
	ImageRefs       []string `avro:"image_refs"`
}

func DraftV1Avro() avro.Schema {
	return avro.MustParse(DraftSchemaTextV1)
}
