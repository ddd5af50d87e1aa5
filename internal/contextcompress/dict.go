package contextcompress

import "encoding/json"

// ToDict renders the context as a plain JSON-shaped map, matching the
// source contract's to_dict. FromDict is its exact inverse.
func (c CompressedContext) ToDict() (map[string]any, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromDict rebuilds a CompressedContext from the map ToDict produced.
func FromDict(dict map[string]any) (CompressedContext, error) {
	raw, err := json.Marshal(dict)
	if err != nil {
		return CompressedContext{}, err
	}
	var c CompressedContext
	if err := json.Unmarshal(raw, &c); err != nil {
		return CompressedContext{}, err
	}
	return c, nil
}
