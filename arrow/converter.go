package arrow

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// Converter turns gateway events into Arrow records and back.
type Converter struct {
	allocator memory.Allocator
	schema    *arrow.Schema
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return NewConverterWithAllocator(memory.DefaultAllocator)
}

// NewConverterWithAllocator creates a Converter that builds with alloc.
func NewConverterWithAllocator(alloc memory.Allocator) *Converter {
	return &Converter{
		allocator: alloc,
		schema:    EventSchema(),
	}
}

// EventsToRecord converts events to a single record batch. The caller releases it.
func (c *Converter) EventsToRecord(events []gateway.Event) (arrow.Record, error) {
	if len(events) == 0 {
		return nil, errors.New("empty events slice")
	}

	builder := array.NewRecordBuilder(c.allocator, c.schema)
	defer builder.Release()

	workflowBuilder := builder.Field(colWorkflowID).(*array.StringBuilder)
	stateBuilder := builder.Field(colState).(*array.StringBuilder)
	stageBuilder := builder.Field(colStage).(*array.StringBuilder)
	destinationBuilder := builder.Field(colDestination).(*array.StringBuilder)
	hashBuilder := builder.Field(colHash).(*array.StringBuilder)
	errorBuilder := builder.Field(colError).(*array.StringBuilder)
	timestampBuilder := builder.Field(colTimestamp).(*array.Float64Builder)
	detailsBuilder := builder.Field(colDetails).(*array.MapBuilder)

	keyBuilder := detailsBuilder.KeyBuilder().(*array.StringBuilder)
	valueBuilder := detailsBuilder.ItemBuilder().(*array.StringBuilder)

	for _, event := range events {
		workflowBuilder.Append(event.WorkflowID)
		stateBuilder.Append(string(event.State))
		appendOptional(stageBuilder, string(event.Stage))
		appendOptional(destinationBuilder, event.Destination)
		appendOptional(hashBuilder, event.Hash)
		appendOptional(errorBuilder, event.Error)
		timestampBuilder.Append(toUnixSeconds(event.Timestamp))

		if len(event.Details) > 0 {
			detailsBuilder.Append(true)
			for k, v := range event.Details {
				keyBuilder.Append(k)
				valueBuilder.Append(v)
			}
		} else {
			detailsBuilder.AppendNull()
		}
	}

	return builder.NewRecord(), nil
}

func appendOptional(b *array.StringBuilder, v string) {
	if v == "" {
		b.AppendNull()
		return
	}
	b.Append(v)
}

func toUnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(ts float64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// RecordToEvents converts a record batch built from EventSchema back to events.
func (c *Converter) RecordToEvents(record arrow.Record) ([]gateway.Event, error) {
	if record == nil || record.NumRows() == 0 {
		return nil, nil
	}
	if err := ValidateSchema(record, c.schema); err != nil {
		return nil, err
	}

	workflowCol := record.Column(colWorkflowID).(*array.String)
	stateCol := record.Column(colState).(*array.String)
	stageCol := record.Column(colStage).(*array.String)
	destinationCol := record.Column(colDestination).(*array.String)
	hashCol := record.Column(colHash).(*array.String)
	errorCol := record.Column(colError).(*array.String)
	timestampCol := record.Column(colTimestamp).(*array.Float64)
	detailsCol := record.Column(colDetails).(*array.Map)

	events := make([]gateway.Event, record.NumRows())
	for i := range events {
		events[i] = gateway.Event{
			WorkflowID:  workflowCol.Value(i),
			State:       gateway.WorkflowState(stateCol.Value(i)),
			Stage:       gateway.Stage(optional(stageCol, i)),
			Destination: optional(destinationCol, i),
			Hash:        optional(hashCol, i),
			Error:       optional(errorCol, i),
			Timestamp:   fromUnixSeconds(timestampCol.Value(i)),
		}
		if !detailsCol.IsNull(i) {
			events[i].Details = extractMapValues(detailsCol, i)
		}
	}
	return events, nil
}

func optional(col *array.String, i int) string {
	if col.IsNull(i) {
		return ""
	}
	return col.Value(i)
}

// extractMapValues extracts key-value pairs from a Map column at the given index.
func extractMapValues(mapCol *array.Map, idx int) map[string]string {
	result := make(map[string]string)

	offsets := mapCol.Offsets()
	start, end := offsets[idx], offsets[idx+1]

	keys := mapCol.Keys().(*array.String)
	values := mapCol.Items().(*array.String)

	for j := start; j < end; j++ {
		result[keys.Value(int(j))] = values.Value(int(j))
	}
	return result
}

// ValidateSchema checks if a record matches the expected schema.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.Name)
		}
		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.Type)
		}
	}
	return nil
}
