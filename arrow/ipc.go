package arrow

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/stellar-gateway/gateway"
)

// IPCCodec frames workflow events as Arrow IPC streams.
type IPCCodec struct {
	allocator memory.Allocator
	converter *Converter
}

// NewIPCCodec creates a new IPCCodec.
func NewIPCCodec() *IPCCodec {
	return &IPCCodec{
		allocator: memory.DefaultAllocator,
		converter: NewConverter(),
	}
}

// SerializeToIPC serializes an Arrow Record to IPC bytes.
func (c *IPCCodec) SerializeToIPC(record arrow.Record) ([]byte, error) {
	var buf bytes.Buffer

	writer := ipc.NewWriter(&buf, ipc.WithSchema(record.Schema()), ipc.WithAllocator(c.allocator))
	defer writer.Close()

	if err := writer.Write(record); err != nil {
		return nil, fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	return buf.Bytes(), nil
}

// DeserializeFromIPC reads the first record of an IPC stream. The caller releases it.
func (c *IPCCodec) DeserializeFromIPC(data []byte) (arrow.Record, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(c.allocator))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer reader.Release()

	if !reader.Next() {
		if reader.Err() != nil {
			return nil, reader.Err()
		}
		return nil, fmt.Errorf("no records in IPC data")
	}

	record := reader.Record()
	record.Retain()
	return record, nil
}

// EncodeEvents converts events to one record and frames it.
func (c *IPCCodec) EncodeEvents(events []gateway.Event) ([]byte, error) {
	record, err := c.converter.EventsToRecord(events)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	return c.SerializeToIPC(record)
}

// DecodeEvents reverses EncodeEvents.
func (c *IPCCodec) DecodeEvents(data []byte) ([]gateway.Event, error) {
	record, err := c.DeserializeFromIPC(data)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	return c.converter.RecordToEvents(record)
}
