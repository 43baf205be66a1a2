package schema

import "github.com/hamba/avro/v2"

const CategoryStatsSchemaTextV1 = `{
	"type": "record",
	"namespace": "intake",
	"name": "category_stats",
	"fields" : [
		{"name": "category", "type": "string"},
		{"name": "submitted", "type": "long"},
		{"name": "succeeded", "type": "long"},
		{"name": "failed", "type": "long"},
		{"name": "images_requested", "type": "long"},
		{"name": "images_uploaded", "type": "long"}
	]
}`

type CategoryStatsV1 struct {
	Category        string `avro:"category"`
	Submitted       int64  `avro:"submitted"`
	Succeeded       int64  `avro:"succeeded"`
	Failed          int64  `avro:"failed"`
	ImagesRequested int64  `avro:"images_requested"`
	ImagesUploaded  int64  `avro:"images_uploaded"`
}

func CategoryStatsV1Avro() avro.Schema {
	return avro.MustParse(CategoryStatsSchemaTextV1)
}
