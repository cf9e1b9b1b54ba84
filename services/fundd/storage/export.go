package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetOperation struct {
	ID        string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence  int64  `parquet:"name=sequence, type=INT64"`
	FundID    int64  `parquet:"name=fund_id, type=INT64"`
	Kind      string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Actor     string `parquet:"name=actor, type=BYTE_ARRAY, convertedtype=UTF8"`
	AssetIn   string `parquet:"name=asset_in, type=BYTE_ARRAY, convertedtype=UTF8"`
	AssetOut  string `parquet:"name=asset_out, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountIn  string `parquet:"name=amount_in, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountOut string `parquet:"name=amount_out, type=BYTE_ARRAY, convertedtype=UTF8"`
	Shares    string `parquet:"name=shares, type=BYTE_ARRAY, convertedtype=UTF8"`
	NAVBefore string `parquet:"name=nav_before, type=BYTE_ARRAY, convertedtype=UTF8"`
	NAVAfter  string `parquet:"name=nav_after, type=BYTE_ARRAY, convertedtype=UTF8"`
	Detail    string `parquet:"name=detail, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportOperations writes the fund's journal to a snappy-compressed parquet
// file under dir and returns its path and row count.
func (j *Journal) ExportOperations(ctx context.Context, fundID uint64, dir string) (string, int, error) {
	ops, err := j.Operations(ctx, fundID, 0)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("export: create dir: %w", err)
	}
	name := fmt.Sprintf("fund-%d-%s.parquet", fundID, j.now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)
	if err := writeParquet(path, ops); err != nil {
		return "", 0, err
	}
	j.logger.Info("journal exported", "fund_id", fundID, "path", path, "rows", len(ops))
	return path, len(ops), nil
}

func writeParquet(path string, ops []Operation) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetOperation), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, op := range ops {
		row := &parquetOperation{
			ID:        op.ID.String(),
			Sequence:  op.Sequence,
			FundID:    int64(op.FundID),
			Kind:      op.Kind,
			Actor:     op.Actor,
			AssetIn:   op.AssetIn,
			AssetOut:  op.AssetOut,
			AmountIn:  op.AmountIn,
			AmountOut: op.AmountOut,
			Shares:    op.Shares,
			NAVBefore: op.NAVBefore,
			NAVAfter:  op.NAVAfter,
			Detail:    op.Detail,
			CreatedAt: op.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
