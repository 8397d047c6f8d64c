package arrow

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Column positions of EventSchema.
const (
	colWorkflowID = iota
	colState
	colStage
	colDestination
	colHash
	colError
	colTimestamp
	colDetails
	eventColumns
)

// EventSchema returns the Arrow schema for a workflow event.
//
// Fields:
//   - workflow_id: string - Account creation workflow identifier
//   - state: string - Workflow state reached
//   - stage: string (nullable) - Failed stage, set on failure states only
//   - destination: string (nullable) - Destination account once generated
//   - hash: string (nullable) - Transaction hash once submitted
//   - error: string (nullable) - Failure cause
//   - timestamp: float64 - Unix timestamp in seconds
//   - details: map<string, string> (nullable) - Key-value metadata
func EventSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "workflow_id", Type: arrow.BinaryTypes.String},
			{Name: "state", Type: arrow.BinaryTypes.String},
			{Name: "stage", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "destination", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "hash", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "error", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "timestamp", Type: arrow.PrimitiveTypes.Float64},
			{
				Name: "details",
				Type: arrow.MapOf(
					arrow.BinaryTypes.String,
					arrow.BinaryTypes.String,
				),
				Nullable: true,
			},
		},
		nil,
	)
}
