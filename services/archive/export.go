package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetEvent struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=UTF8, encoding=PLAIN_DICTIONARY"`
	OfferID    int64  `parquet:"name=offer_id, type=INT64"`
	LoanID     int64  `parquet:"name=loan_id, type=INT64"`
	Actor      string `parquet:"name=actor, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Attributes string `parquet:"name=attributes, type=UTF8, encoding=PLAIN_DICTIONARY"`
	EmittedAt  string `parquet:"name=emitted_at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

func optionalID(v *uint64) int64 {
	if v == nil {
		return 0
	}
	return int64(*v)
}

// ExportParquet writes the events matching f to path and returns the row
// count. Offer and loan ids of zero mean the event carries none.
func (s *Store) ExportParquet(ctx context.Context, path string, f Filter) (int, error) {
	rows, err := s.Query(ctx, f)
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("archive: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetEvent), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("archive: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		rec := &parquetEvent{
			Sequence:   int64(row.Sequence),
			Type:       row.Type,
			OfferID:    optionalID(row.OfferID),
			LoanID:     optionalID(row.LoanID),
			Actor:      row.Actor,
			Attributes: row.Attributes,
			EmittedAt:  row.EmittedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("archive: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("archive: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("archive: close parquet file: %w", err)
	}
	s.logger.Info("archive exported", slog.String("path", path), slog.Int("rows", len(rows)))
	return len(rows), nil
}
