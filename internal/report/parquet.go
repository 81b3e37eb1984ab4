package report

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

// TableSchema returns the Arrow schema of a results table: nullable strings
// for data columns and booleans for ERR_<code> flag columns.
func TableSchema(t *datastore.Table) *arrow.Schema {
	var fields []arrow.Field
	for _, c := range t.Columns() {
		fields = append(fields, arrow.Field{Name: c, Type: arrow.BinaryTypes.String, Nullable: true})
	}
	for _, c := range t.FlagColumns() {
		fields = append(fields, arrow.Field{Name: c, Type: arrow.FixedWidthTypes.Boolean})
	}
	return arrow.NewSchema(fields, nil)
}

// WriteParquet exports one results table, flags included, as Parquet.
func WriteParquet(w io.Writer, t *datastore.Table) error {
	schema := TableSchema(t)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	cols := t.Columns()
	for i, c := range cols {
		sb := b.Field(i).(*array.StringBuilder)
		for row := 0; row < t.Len(); row++ {
			if v := t.Value(c, row); v.Valid {
				sb.Append(v.String)
			} else {
				sb.AppendNull()
			}
		}
	}
	for j, c := range t.FlagColumns() {
		bb := b.Field(len(cols) + j).(*array.BooleanBuilder)
		for row := 0; row < t.Len(); row++ {
			bb.Append(t.IsFlagged(c, row))
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, w, props, arrowProps)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return fmt.Errorf("write %s to parquet: %w", t.Name(), err)
	}
	return writer.Close()
}
