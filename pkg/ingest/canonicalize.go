package ingest

import (
	"fmt"
	"strings"

	"github.com/cuemby/vigil/pkg/canon"
	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// Canonicalize dispatches raw by fieldType to the matching pkg/canon
// normalizer and assembles a graph.NormalizedRecord, including its
// salted canonical key. Every parser in this package routes through
// here instead of each re-implementing per-field-type string munging.
func Canonicalize(fieldType, raw, salt string) (graph.NormalizedRecord, error) {
	fieldType = strings.ToLower(strings.TrimSpace(fieldType))

	var canonical string
	switch fieldType {
	case "ip":
		v, err := canon.NormalizeIP(raw)
		if err != nil {
			return graph.NormalizedRecord{}, err
		}
		canonical = v.Canonical
	case "domain":
		v, err := canon.NormalizeDomain(raw)
		if err != nil {
			return graph.NormalizedRecord{}, err
		}
		canonical = v.Canonical
	case "hash":
		v, err := canon.NormalizeHash(raw)
		if err != nil {
			return graph.NormalizedRecord{}, err
		}
		canonical = v.Canonical
	case "email":
		v, err := canon.NormalizeEmail(raw)
		if err != nil {
			return graph.NormalizedRecord{}, err
		}
		canonical = v.Canonical
	case "timestamp":
		v, err := canon.NormalizeTimestamp(raw)
		if err != nil {
			return graph.NormalizedRecord{}, err
		}
		canonical = v.Canonical
	default:
		return graph.NormalizedRecord{}, vigilerr.New(vigilerr.KindUnsupportedFormat,
			fmt.Sprintf("unsupported field type: %s", fieldType))
	}

	key := canon.GenerateKey(canonical, salt)

	return graph.NormalizedRecord{
		FieldType: fieldType,
		Raw:       raw,
		Canonical: canonical,
		CanonKey:  key.Value,
	}, nil
}
