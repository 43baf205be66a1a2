package schema

import "github.com/hamba/avro/v2"

const OutcomeSchemaTextV1 = `{
	"type": "record",
	"namespace": "intake",
	"name": "outcome",
	"fields" : [
		{"name": "submission_id", "type": "string"},
		{"name": "product_id", "type": "string"},
		{"name": "document_id", "type": "string"},
		{"name": "category", "type": "string"},
		{"name": "success", "type": "boolean"},
		{"name": "error", "type": "string"},
		{"name": "images_requested", "type": "int"},
		{"name": "images", "type": {"type": "array", "items": "string"}}
	]
}`

// An OutcomeV1 reports the result of a single submission.
//
// ImagesRequested minus the number of Images is the count of dropped images.
type OutcomeV1 struct {
	SubmissionID    string   `avro:"submission_id"`
	ProductID       string   `avro:"product_id"`
	DocumentID      string   `avro:"document_id"`
	Category        string   `avro:"category"`
	Success         bool     `avro:"success"`
	Error           string   `avro:"error"`
	ImagesRequested int      `avro:"images_requested"`
	Images          []string `avro:"images"`
}

func OutcomeV1Avro() avro.Schema {
	return avro.MustParse(OutcomeSchemaTextV1)
}
