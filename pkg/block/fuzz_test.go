package block

import (
	"encoding/json"
	"testing"
)

func FuzzBlockUnmarshal(f *testing.F) {
	f.Add([]byte(`{"height":1,"previousHash":"00","timestamp":1,"transactions":[],"signature":""}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"transactions":[null,{}]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var b Block
		if err := json.Unmarshal(data, &b); err != nil {
			return
		}
		b.ComputeHash()
		_ = b.Validate()
	})
}
