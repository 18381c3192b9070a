package ports

import (
	"context"

	"neurodiff/domain/dataset"
)

// DatasetLoader reads an expression dataset (counts, TPM, gene annotation and
// sample metadata) from a source such as a workbook or a directory.
type DatasetLoader interface {
	LoadExpressionDataset(ctx context.Context, source string) (*dataset.Dataset, error)
}
