package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	appconfig "skinflow/config"
	"skinflow/logger"
	"skinflow/models"
	"skinflow/processor"
)

const archiveUploadTimeout = 2 * time.Minute

type priceParquetRecord struct {
	Source         string   `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	RunID          string   `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	MarketHashName string   `parquet:"name=market_hash_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	NormalizedKey  string   `parquet:"name=normalized_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	Phase          string   `parquet:"name=phase, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind           string   `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price          *float64 `parquet:"name=price, type=DOUBLE, repetitiontype=OPTIONAL"`
	StartingAt     *float64 `parquet:"name=starting_at, type=DOUBLE, repetitiontype=OPTIONAL"`
	HighestOrder   *float64 `parquet:"name=highest_order, type=DOUBLE, repetitiontype=OPTIONAL"`
	Last24h        *float64 `parquet:"name=last_24h, type=DOUBLE, repetitiontype=OPTIONAL"`
	Last7d         *float64 `parquet:"name=last_7d, type=DOUBLE, repetitiontype=OPTIONAL"`
	Last30d        *float64 `parquet:"name=last_30d, type=DOUBLE, repetitiontype=OPTIONAL"`
	Last90d        *float64 `parquet:"name=last_90d, type=DOUBLE, repetitiontype=OPTIONAL"`
	Timestamp      int64    `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type parquetBuffer struct {
	buffer *bytes.Buffer
}

func newParquetBuffer() *parquetBuffer {
	return &parquetBuffer{buffer: &bytes.Buffer{}}
}

func (m *parquetBuffer) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *parquetBuffer) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *parquetBuffer) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *parquetBuffer) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *parquetBuffer) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *parquetBuffer) Close() error                              { return nil }
func (m *parquetBuffer) Bytes() []byte                             { return m.buffer.Bytes() }

// objectPutter is the part of the S3 client the archiver uses.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads each source's deduplicated listing as a parquet
// snapshot and each run result as JSON. Archive failures never affect a
// run's outcome.
type S3Archiver struct {
	cfg    *appconfig.Config
	client objectPutter
	log    *logger.Log
}

// NewS3Archiver loads AWS configuration and builds the S3 client.
func NewS3Archiver(ctx context.Context, cfg *appconfig.Config) (*S3Archiver, error) {
	if !cfg.Storage.S3.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Storage.S3.Region)}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	logger.GetLogger().WithComponent("s3_archiver").WithFields(logger.Fields{
		"bucket": cfg.Storage.S3.Bucket,
		"region": cfg.Storage.S3.Region,
		"prefix": cfg.Storage.S3.Prefix,
	}).Info("s3 archiver initialized")

	return newS3Archiver(cfg, client), nil
}

func newS3Archiver(cfg *appconfig.Config, client objectPutter) *S3Archiver {
	return &S3Archiver{cfg: cfg, client: client, log: logger.GetLogger()}
}

// ArchiveListing uploads the listing of one source as a parquet file.
func (a *S3Archiver) ArchiveListing(ctx context.Context, runID, sourceName string, listing models.Listing, at time.Time) error {
	if len(listing) == 0 {
		return nil
	}
	data, rows, err := a.encodeListing(runID, sourceName, listing, at)
	if err != nil {
		return err
	}

	key := a.listingKey(runID, sourceName, at)
	if err := a.put(ctx, key, data, "application/octet-stream", map[string]string{
		"content-type":     "parquet",
		"compression":      a.cfg.Storage.S3.Compression,
		"skinflow-version": a.cfg.Skinflow.Version,
	}); err != nil {
		return fmt.Errorf("upload listing snapshot: %w", err)
	}

	a.log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"source":    sourceName,
		"s3_key":    key,
		"rows":      rows,
		"file_size": len(data),
	}).Info("listing snapshot uploaded")
	return nil
}

// ArchiveRun uploads the run result as JSON.
func (a *S3Archiver) ArchiveRun(ctx context.Context, result models.RunResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run result: %w", err)
	}
	key := a.runKey(result.RunID, result.Timestamp)
	if err := a.put(ctx, key, data, "application/json", nil); err != nil {
		return fmt.Errorf("upload run result: %w", err)
	}
	a.log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"run_id": result.RunID,
		"s3_key": key,
	}).Info("run result uploaded")
	return nil
}

func (a *S3Archiver) put(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveUploadTimeout)
	defer cancel()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    meta,
	})
	return err
}

// encodeListing writes one row per item and one more per phase.
func (a *S3Archiver) encodeListing(runID, sourceName string, listing models.Listing, at time.Time) ([]byte, int, error) {
	ts := at.UTC().UnixMilli()
	records := make([]priceParquetRecord, 0, len(listing))
	for _, e := range listing {
		key := processor.NormalizeKey(e.Name)
		records = append(records, toParquetRecord(runID, sourceName, e.Name, key, "", e.Record, ts))
		for _, phase := range e.Record.PhaseNames() {
			records = append(records, toParquetRecord(runID, sourceName, e.Name, processor.PhaseKey(key, phase), phase, e.Record.Phases[phase], ts))
		}
	}

	mem := newParquetBuffer()
	pw, err := pqwriter.NewParquetWriter(mem, new(priceParquetRecord), 1)
	if err != nil {
		return nil, 0, fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(a.cfg.Storage.S3.Compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, rec := range records {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, 0, fmt.Errorf("write price record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, 0, fmt.Errorf("finalize price parquet: %w", err)
	}
	return mem.Bytes(), len(records), nil
}

func toParquetRecord(runID, sourceName, name, key, phase string, rec models.PriceRecord, ts int64) priceParquetRecord {
	return priceParquetRecord{
		Source:         sourceName,
		RunID:          runID,
		MarketHashName: name,
		NormalizedKey:  key,
		Phase:          phase,
		Kind:           string(rec.Kind),
		Price:          rec.Price,
		StartingAt:     rec.StartingAt,
		HighestOrder:   rec.HighestOrder,
		Last24h:        rec.Last24h,
		Last7d:         rec.Last7d,
		Last30d:        rec.Last30d,
		Last90d:        rec.Last90d,
		Timestamp:      ts,
	}
}

func (a *S3Archiver) listingKey(runID, sourceName string, at time.Time) string {
	return path.Join(
		a.cfg.Storage.S3.Prefix,
		fmt.Sprintf("source=%s", strings.ToLower(sourceName)),
		at.UTC().Format("2006/01/02"),
		runID+".parquet",
	)
}

func (a *S3Archiver) runKey(runID string, at time.Time) string {
	return path.Join(a.cfg.Storage.S3.Prefix, "runs", at.UTC().Format("2006/01/02"), runID+".json")
}
