// Package s3 implements remote Storage on an S3-compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"dataportal/internal/remote/core"
)

// minPartSize is the smallest multipart part S3 accepts except for the last.
const minPartSize = 5 << 20

const stagingPrefix = ".sessions/"

// Store implements core.Storage on a single S3 bucket. Remote paths map to
// object keys without the leading slash; folders are key prefixes marked by
// a zero-byte "<folder>/" object. Upload sessions are multipart uploads on a
// staging key and live in process memory, so a session must be finished by
// the process that started it.
type Store struct {
	client      *s3.Client
	bucket      string
	concurrency int

	mu       sync.Mutex
	sessions map[string]*upload
	jobs     map[string]core.JobStatus
	wg       sync.WaitGroup
}

var _ core.Storage = (*Store)(nil)

type upload struct {
	mu       sync.Mutex
	key      string
	uploadID string
	parts    []types.CompletedPart
	pending  []byte
	size     int64
}

// Config holds explicit construction parameters.
type Config struct {
	Region          string
	Bucket          string
	Endpoint        string // optional; if set enables custom endpoint (e.g. MinIO)
	PathStyle       bool
	CopyConcurrency int // parallel CopyObject calls per batch, default 8
}

// New creates an S3-backed store from Config using the default credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.CopyConcurrency), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket string, concurrency int) *Store {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Store{
		client:      client,
		bucket:      bucket,
		concurrency: concurrency,
		sessions:    make(map[string]*upload),
		jobs:        make(map[string]core.JobStatus),
	}
}

func (s *Store) Driver() core.Driver { return core.DriverS3 }

// Wait blocks until every running copy job has settled.
func (s *Store) Wait() { s.wg.Wait() }

func objectKey(p string) (string, error) {
	clean, err := core.CleanPath(p)
	if err != nil {
		return "", err
	}
	key := strings.TrimPrefix(clean, "/")
	if key == strings.TrimSuffix(stagingPrefix, "/") || strings.HasPrefix(key, stagingPrefix) {
		return "", fmt.Errorf("remote: reserved path %q", p)
	}
	return key, nil
}

func (s *Store) StartUploadSession(ctx context.Context, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	key := stagingPrefix + id
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{Bucket: &s.bucket, Key: &key})
	if err != nil {
		return "", err
	}
	u := &upload{key: key, uploadID: aws.ToString(out.UploadId), pending: data, size: int64(len(data))}
	if err := s.flush(ctx, u, false); err != nil {
		s.abort(ctx, u)
		return "", err
	}
	s.mu.Lock()
	s.sessions[id] = u
	s.mu.Unlock()
	return id, nil
}

func (s *Store) session(id string) (*upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrUnknownSession
	}
	return u, nil
}

func (s *Store) AppendToSession(ctx context.Context, cursor core.Cursor, r io.Reader) error {
	u, err := s.session(cursor.SessionID)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.size != cursor.Offset {
		return fmt.Errorf("%w: expected %d, got %d", core.ErrIncorrectOffset, u.size, cursor.Offset)
	}
	u.pending = append(u.pending, data...)
	u.size += int64(len(data))
	return s.flush(ctx, u, false)
}

// flush uploads buffered bytes as the next part once they reach the minimum
// part size, or unconditionally when final.
func (s *Store) flush(ctx context.Context, u *upload, final bool) error {
	if !final && len(u.pending) < minPartSize {
		return nil
	}
	if final && len(u.pending) == 0 && len(u.parts) > 0 {
		return nil
	}
	n := int32(len(u.parts) + 1)
	out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     &s.bucket,
		Key:        &u.key,
		UploadId:   &u.uploadID,
		PartNumber: aws.Int32(n),
		Body:       bytes.NewReader(u.pending),
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", n, err)
	}
	u.parts = append(u.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(n)})
	u.pending = nil
	return nil
}

func (s *Store) abort(ctx context.Context, u *upload) {
	_, _ = s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{Bucket: &s.bucket, Key: &u.key, UploadId: &u.uploadID})
}

func (s *Store) FinishUploadBatch(ctx context.Context, entries []core.FinishEntry) ([]core.EntryResult, error) {
	out := make([]core.EntryResult, len(entries))
	for i, e := range entries {
		out[i] = core.EntryResult{Path: e.Path}
		if err := s.finishOne(ctx, e); err != nil {
			out[i].Error = err.Error()
			continue
		}
		out[i].Success = true
	}
	return out, nil
}

func (s *Store) finishOne(ctx context.Context, e core.FinishEntry) error {
	dest, err := objectKey(e.Path)
	if err != nil {
		return err
	}
	u, err := s.session(e.Cursor.SessionID)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.size != e.Cursor.Offset {
		return core.ErrIncorrectOffset
	}
	if exists, err := s.exists(ctx, dest); err != nil {
		return err
	} else if exists {
		return core.ErrConflict
	}
	if err := s.flush(ctx, u, true); err != nil {
		return err
	}
	if _, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          &s.bucket,
		Key:             &u.key,
		UploadId:        &u.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: u.parts},
	}); err != nil {
		s.abort(ctx, u)
		return fmt.Errorf("complete upload: %w", err)
	}
	s.mu.Lock()
	delete(s.sessions, e.Cursor.SessionID)
	s.mu.Unlock()
	if err := s.copyObject(ctx, u.key, dest); err != nil {
		return err
	}
	_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &u.key})
	return nil
}

func (s *Store) ListFolder(ctx context.Context, p string) ([]core.Entry, error) {
	key, err := objectKey(p)
	if err != nil {
		return nil, err
	}
	prefix := ""
	if key != "" {
		prefix = key + "/"
	}
	delimiter := "/"
	var (
		out   []core.Entry
		found = prefix == ""
		token *string
	)
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &prefix, Delimiter: &delimiter, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			sub := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			if prefix == "" && sub+"/" == stagingPrefix {
				continue
			}
			out = append(out, core.Entry{Name: path.Base(sub), Path: "/" + sub, Folder: true})
		}
		for _, obj := range page.Contents {
			found = true
			k := aws.ToString(obj.Key)
			if k == prefix {
				continue
			}
			out = append(out, core.Entry{Name: path.Base(k), Path: "/" + k, Size: aws.ToInt64(obj.Size)})
		}
		if aws.ToBool(page.IsTruncated) && page.NextContinuationToken != nil {
			token = page.NextContinuationToken
			continue
		}
		break
	}
	if !found {
		return nil, core.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) CreateFolder(ctx context.Context, p string) error {
	key, err := objectKey(p)
	if err != nil {
		return err
	}
	if exists, err := s.exists(ctx, key); err != nil {
		return err
	} else if exists {
		return core.ErrConflict
	}
	marker := key + "/"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{Bucket: &s.bucket, Key: &marker, Body: bytes.NewReader(nil)})
	return err
}

// CopyBatch resolves every source to its object keys and copies them on a
// background goroutine, bounded by the configured concurrency.
func (s *Store) CopyBatch(ctx context.Context, pairs []core.RelocationPair) (core.BatchJob, error) {
	var moves [][2]string
	for _, p := range pairs {
		pm, err := s.plan(ctx, p.From, p.To)
		if err != nil {
			return core.BatchJob{}, err
		}
		moves = append(moves, pm...)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.jobs[id] = core.JobStatus{Tag: core.JobInProgress}
	s.mu.Unlock()

	jobCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		status := core.JobStatus{Tag: core.JobComplete}
		if err := s.copyAll(jobCtx, moves); err != nil {
			status = core.JobStatus{Tag: core.JobFailed, Failures: []string{err.Error()}}
		}
		s.mu.Lock()
		s.jobs[id] = status
		s.mu.Unlock()
	}()
	return core.BatchJob{JobID: id, Tag: core.JobInProgress}, nil
}

func (s *Store) CheckCopyJob(_ context.Context, jobID string) (core.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	if !ok {
		return core.JobStatus{}, core.ErrUnknownJob
	}
	return st, nil
}

func (s *Store) Move(ctx context.Context, from, to string) error {
	moves, err := s.plan(ctx, from, to)
	if err != nil {
		return err
	}
	if err := s.copyAll(ctx, moves); err != nil {
		return err
	}
	sources := make([]string, len(moves))
	for i, m := range moves {
		sources[i] = m[0]
	}
	return s.deleteAll(ctx, sources)
}

func (s *Store) Delete(ctx context.Context, p string) error {
	key, err := objectKey(p)
	if err != nil {
		return err
	}
	if key == "" {
		return errors.New("remote: refusing to delete root")
	}
	keys, err := s.keysUnder(ctx, key)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s", core.ErrNotFound, p)
	}
	return s.deleteAll(ctx, keys)
}

// plan maps every object under from onto its destination key under to.
func (s *Store) plan(ctx context.Context, from, to string) ([][2]string, error) {
	src, err := objectKey(from)
	if err != nil {
		return nil, err
	}
	dst, err := objectKey(to)
	if err != nil {
		return nil, err
	}
	keys, err := s.keysUnder(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, from)
	}
	if exists, err := s.exists(ctx, dst); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", core.ErrConflict, to)
	}
	moves := make([][2]string, len(keys))
	for i, k := range keys {
		moves[i] = [2]string{k, dst + strings.TrimPrefix(k, src)}
	}
	return moves, nil
}

func (s *Store) copyAll(ctx context.Context, moves [][2]string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, m := range moves {
		m := m
		g.Go(func() error { return s.copyObject(gctx, m[0], m[1]) })
	}
	return g.Wait()
}

func (s *Store) deleteAll(ctx context.Context, keys []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			_, err := s.client.DeleteObject(gctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &k})
			return err
		})
	}
	return g.Wait()
}

func (s *Store) copyObject(ctx context.Context, from, to string) error {
	source := copySource(s.bucket, from)
	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{Bucket: &s.bucket, Key: &to, CopySource: &source}); err != nil {
		return fmt.Errorf("copy %s: %w", from, err)
	}
	return nil
}

// keysUnder returns key itself when it is an object, otherwise every object
// below the key+"/" prefix (folder marker included).
func (s *Store) keysUnder(ctx context.Context, key string) ([]string, error) {
	isFile, err := s.head(ctx, key)
	if err != nil {
		return nil, err
	}
	if isFile {
		return []string{key}, nil
	}
	prefix := key + "/"
	var keys []string
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if aws.ToBool(page.IsTruncated) && page.NextContinuationToken != nil {
			token = page.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	isFile, err := s.head(ctx, key)
	if err != nil || isFile {
		return isFile, err
	}
	prefix := key + "/"
	page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &prefix, MaxKeys: aws.Int32(1)})
	if err != nil {
		return false, err
	}
	return len(page.Contents) > 0, nil
}

func (s *Store) head(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &key})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == 404
}

func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segs, "/")
}
