package values

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/yaml"
)

// SplitDocuments decodes a multi-document manifest into one object per
// resource. Empty documents are dropped.
func SplitDocuments(manifest string) ([]map[string]interface{}, error) {
	decoder := yaml.NewYAMLOrJSONDecoder(bytes.NewReader([]byte(manifest)), 4096)

	var objs []map[string]interface{}
	for {
		var obj map[string]interface{}
		if err := decoder.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode YAML document %d: %w", len(objs)+1, err)
		}
		if len(obj) == 0 {
			continue
		}
		raw := unstructured.Unstructured{Object: obj}
		if raw.GetKind() == "" || raw.GetName() == "" {
			return nil, fmt.Errorf("document %d: kind and metadata.name are required", len(objs)+1)
		}
		objs = append(objs, obj)
	}
	return objs, nil
}
