package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const measurementSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["measurement_start", "measurement_end"],
    "additionalProperties": false,
    "properties": {
      "measurement_start": {"type": "string", "minLength": 10},
      "measurement_end": {"type": "string", "minLength": 10},
      "total_consumption": {"type": ["number", "null"], "minimum": 0},
      "time_of_use": {"$ref": "#/$defs/split"},
      "average_voltage": {"type": ["number", "null"], "minimum": 0},
      "average_current": {"$ref": "#/$defs/split"},
      "max_demand": {"$ref": "#/$defs/split"},
      "power_factor": {"type": ["number", "null"], "minimum": 0, "maximum": 1},
      "events": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "interruptions": {"type": "integer", "minimum": 0},
          "voltage_dips": {"type": "integer", "minimum": 0}
        }
      }
    }
  },
  "$defs": {
    "split": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "peak": {"type": ["number", "null"], "minimum": 0},
        "off_peak": {"type": ["number", "null"], "minimum": 0}
      }
    }
  }
}`

// measurementInput is the ingestion document for one measurement.
type measurementInput struct {
	Start            string   `json:"measurement_start"`
	End              string   `json:"measurement_end"`
	TotalConsumption *float64 `json:"total_consumption"`
	TimeOfUse        Split    `json:"time_of_use"`
	AverageVoltage   *float64 `json:"average_voltage"`
	AverageCurrent   Split    `json:"average_current"`
	MaxDemand        Split    `json:"max_demand"`
	PowerFactor      *float64 `json:"power_factor"`
	Events           Events   `json:"events"`
}

func compileMeasurementSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("measurements.json", strings.NewReader(measurementSchema)); err != nil {
		return nil, fmt.Errorf("adding schema: %w", err)
	}
	schema, err := compiler.Compile("measurements.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return schema, nil
}

// parseTimestamp accepts RFC 3339 timestamps and bare dates.
func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// decodeMeasurements validates data against the ingestion schema and decodes
// it. IDs, owners and timestamps are left to the caller.
func decodeMeasurements(schema *jsonschema.Schema, data []byte) ([]*Measurement, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeasurement, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeasurement, err)
	}

	var inputs []measurementInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMeasurement, err)
	}

	measurements := make([]*Measurement, 0, len(inputs))
	for i, in := range inputs {
		start, err := parseTimestamp(in.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: measurement_start: %v", ErrInvalidMeasurement, i, err)
		}
		end, err := parseTimestamp(in.End)
		if err != nil {
			return nil, fmt.Errorf("%w: item %d: measurement_end: %v", ErrInvalidMeasurement, i, err)
		}
		if start.After(end) {
			return nil, fmt.Errorf("%w: item %d: start %s is after end %s", ErrInvalidMeasurement, i, in.Start, in.End)
		}
		measurements = append(measurements, &Measurement{
			Start:            start,
			End:              end,
			TotalConsumption: in.TotalConsumption,
			TimeOfUse:        in.TimeOfUse,
			AverageVoltage:   in.AverageVoltage,
			AverageCurrent:   in.AverageCurrent,
			MaxDemand:        in.MaxDemand,
			PowerFactor:      in.PowerFactor,
			Events:           in.Events,
		})
	}
	return measurements, nil
}
