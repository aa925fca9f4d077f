/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "json"

// RawMessage is an already serialized JSON document carried as is by the
// codec.
type RawMessage []byte

// jsonCodec is the gRPC codec of the replication service. RawMessage values
// pass through untouched; anything else goes through encoding/json.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	if m, ok := v.(*RawMessage); ok {
		return *m, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if m, ok := v.(*RawMessage); ok {
		*m = append((*m)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
