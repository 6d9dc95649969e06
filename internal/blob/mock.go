package blob

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewS3MockForTests returns an *S3Store served entirely from process memory.
// The fake transport implements the object operations the Store interface
// relies on (head, get, put, delete, list-v2), including user metadata
// round-trips via x-amz-meta headers.
func NewS3MockForTests() *S3Store {
	fake := newFakeS3()
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &S3Store{client: client, bucket: "mock-bucket", presign: s3.NewPresignClient(client)}
}

type fakeObject struct {
	body         []byte
	contentType  string
	metadata     map[string]string
	lastModified time.Time
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := objectKey(req.URL.Path)
	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		return f.list(req.URL.Query().Get("prefix"))
	case req.Method == http.MethodHead:
		return f.head(key)
	case req.Method == http.MethodGet:
		return f.get(key)
	case req.Method == http.MethodPut:
		return f.put(key, req)
	case req.Method == http.MethodDelete:
		delete(f.objects, key)
		return fakeResponse(http.StatusNoContent, nil, nil), nil
	}
	return fakeResponse(http.StatusNotImplemented, nil, nil), nil
}

// objectKey strips the leading bucket segment from a path-style request path.
func objectKey(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return ""
}

func (f *fakeS3) put(key string, req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
	}
	metadata := map[string]string{}
	for header, values := range req.Header {
		if strings.HasPrefix(header, "X-Amz-Meta-") && len(values) > 0 {
			metadata[strings.ToLower(strings.TrimPrefix(header, "X-Amz-Meta-"))] = values[0]
		}
	}
	f.objects[key] = fakeObject{
		body:         body,
		contentType:  req.Header.Get("Content-Type"),
		metadata:     metadata,
		lastModified: time.Now().UTC(),
	}
	return fakeResponse(http.StatusOK, nil, http.Header{"ETag": {etagFor(body)}}), nil
}

func (f *fakeS3) head(key string) (*http.Response, error) {
	obj, ok := f.objects[key]
	if !ok {
		return fakeResponse(http.StatusNotFound, nil, nil), nil
	}
	return fakeResponse(http.StatusOK, nil, objectHeaders(obj)), nil
}

func (f *fakeS3) get(key string) (*http.Response, error) {
	obj, ok := f.objects[key]
	if !ok {
		return fakeResponse(http.StatusNotFound, nil, nil), nil
	}
	return fakeResponse(http.StatusOK, obj.body, objectHeaders(obj)), nil
}

type listBucketEntry struct {
	Key          string `xml:"Key"`
	Size         int64  `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

type listBucketResult struct {
	XMLName     xml.Name          `xml:"ListBucketResult"`
	IsTruncated bool              `xml:"IsTruncated"`
	Contents    []listBucketEntry `xml:"Contents"`
}

func (f *fakeS3) list(prefix string) (*http.Response, error) {
	result := listBucketResult{}
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		obj := f.objects[key]
		result.Contents = append(result.Contents, listBucketEntry{
			Key:          key,
			Size:         int64(len(obj.body)),
			LastModified: obj.lastModified.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	payload, err := xml.Marshal(result)
	if err != nil {
		return nil, err
	}
	return fakeResponse(http.StatusOK, payload, http.Header{"Content-Type": {"application/xml"}}), nil
}

func objectHeaders(obj fakeObject) http.Header {
	header := http.Header{
		"Content-Length": {fmt.Sprintf("%d", len(obj.body))},
		"Content-Type":   {obj.contentType},
		"ETag":           {etagFor(obj.body)},
		"Last-Modified":  {obj.lastModified.Format(http.TimeFormat)},
	}
	for key, value := range obj.metadata {
		header.Set("x-amz-meta-"+key, value)
	}
	return header
}

func etagFor(body []byte) string {
	return fmt.Sprintf("\"fake-%d\"", len(body))
}

func fakeResponse(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        header,
	}
}

// decodeChunked decodes a minimal single-chunk aws-chunked payload:
// <hex>[;chunk-signature=...]\r\n<body>\r\n0[;...]\r\n
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	sizeField, _, _ := strings.Cut(parts[0], ";")
	sz, err := parseHex(sizeField)
	if err != nil || int64(len(parts[1])) != sz {
		return nil, false
	}
	final, _, _ := strings.Cut(parts[2], ";")
	if final != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}

func parseHex(h string) (int64, error) {
	var v int64
	for _, c := range h {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v += int64(c - '0')
		case c >= 'a' && c <= 'f':
			v += int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v += int64(c-'A') + 10
		default:
			return 0, fmt.Errorf("invalid hex")
		}
	}
	return v, nil
}
