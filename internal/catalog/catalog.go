// Package catalog is a read-only client for the AWS Glue Data Catalog.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"go.uber.org/zap"

	"lakeplane/internal/domain"
)

var ErrNotFound = errors.New("table not found")

// API is the subset of the Glue client used here. *glue.Client satisfies it.
type API interface {
	GetDatabases(ctx context.Context, params *glue.GetDatabasesInput, optFns ...func(*glue.Options)) (*glue.GetDatabasesOutput, error)
	GetTables(ctx context.Context, params *glue.GetTablesInput, optFns ...func(*glue.Options)) (*glue.GetTablesOutput, error)
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
}

type Client struct {
	api    API
	logger *zap.Logger
}

func New(api API, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, logger: logger}
}

// ListDatabases returns every database name, following pagination.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	var names []string
	p := glue.NewGetDatabasesPaginator(c.api, &glue.GetDatabasesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get databases: %w", err)
		}
		for _, db := range page.DatabaseList {
			names = append(names, aws.ToString(db.Name))
		}
	}
	return names, nil
}

// ListTables returns every table in database, following pagination.
func (c *Client) ListTables(ctx context.Context, database string) ([]domain.TableSummary, error) {
	tables := []domain.TableSummary{}
	p := glue.NewGetTablesPaginator(c.api, &glue.GetTablesInput{DatabaseName: aws.String(database)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("get tables %s: %w", database, classify(err))
		}
		for _, t := range page.TableList {
			tables = append(tables, domain.TableSummary{
				Database:  database,
				Name:      aws.ToString(t.Name),
				TableType: aws.ToString(t.TableType),
			})
		}
	}
	c.logger.Debug("listed tables", zap.String("database", database), zap.Int("count", len(tables)))
	return tables, nil
}

// GetTable describes one table. Names and types pass through untouched.
func (c *Client) GetTable(ctx context.Context, database, table string) (domain.TableSchema, error) {
	out, err := c.api.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(database),
		Name:         aws.String(table),
	})
	if err != nil {
		return domain.TableSchema{}, fmt.Errorf("get table %s.%s: %w", database, table, classify(err))
	}
	if out == nil || out.Table == nil {
		return domain.TableSchema{}, fmt.Errorf("get table %s.%s: %w", database, table, ErrNotFound)
	}
	t := out.Table
	schema := domain.TableSchema{
		Database:   database,
		Table:      table,
		Columns:    []domain.Column{},
		Partitions: columns(t.PartitionKeys),
		TableType:  aws.ToString(t.TableType),
		Parameters: map[string]string{},
	}
	if t.StorageDescriptor != nil {
		schema.Columns = columns(t.StorageDescriptor.Columns)
	}
	for k, v := range t.Parameters {
		schema.Parameters[k] = v
	}
	return schema, nil
}

func columns(in []types.Column) []domain.Column {
	out := make([]domain.Column, 0, len(in))
	for _, c := range in {
		out = append(out, domain.Column{Name: aws.ToString(c.Name), Type: aws.ToString(c.Type)})
	}
	return out
}

func classify(err error) error {
	var nf *types.EntityNotFoundException
	if errors.As(err, &nf) {
		return fmt.Errorf("%w: %s", ErrNotFound, nf.ErrorMessage())
	}
	return err
}
