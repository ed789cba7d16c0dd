package traffic

import (
	"Go2NetNodes/internal/model"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	EncodingJSON  = "json"
	EncodingProto = "proto"
)

// ContentType returns the MIME type of an encoding.
func ContentType(encoding string) string {
	if encoding == EncodingProto {
		return "application/protobuf"
	}
	return "application/json"
}

// ReportStruct converts r to a protobuf Struct with the same field names as
// its JSON form.
func ReportStruct(r *model.TrafficReport) (*structpb.Struct, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// EncodeReport serializes r. An empty encoding selects JSON.
func EncodeReport(r *model.TrafficReport, encoding string) ([]byte, error) {
	switch encoding {
	case "", EncodingJSON:
		return json.Marshal(r)
	case EncodingProto:
		s, err := ReportStruct(r)
		if err != nil {
			return nil, fmt.Errorf("failed to convert report: %w", err)
		}
		return proto.Marshal(s)
	default:
		return nil, fmt.Errorf("unknown report encoding %q", encoding)
	}
}

// DecodeReport is the inverse of EncodeReport.
func DecodeReport(data []byte, encoding string) (*model.TrafficReport, error) {
	raw := data
	switch encoding {
	case "", EncodingJSON:
	case EncodingProto:
		var s structpb.Struct
		if err := proto.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report: %w", err)
		}
		var err error
		if raw, err = s.MarshalJSON(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown report encoding %q", encoding)
	}

	var r model.TrafficReport
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}
