package identity

import "encoding/json"

// Optional distinguishes "field absent from the request" from "field
// explicitly set to null". Absent fields are left untouched by partial
// updates; an explicit null clears a nullable field.
type Optional[T any] struct {
	Set   bool
	Value *T // nil when the field was an explicit null
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set || o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}
