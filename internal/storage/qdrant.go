/**
 * Qdrant chunk index for the extraction engine
 *
 * Stores embedded chunks as Qdrant points so extracted documents can be
 * searched semantically. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const (
	QdrantSinkName = "qdrant"

	upsertBatchSize = 64
)

// QdrantIndex writes chunk embeddings to a Qdrant collection. The collection
// is created on first use with the dimensions of the first vector written.
type QdrantIndex struct {
	points         qdrant.PointsClient
	collections    qdrant.CollectionsClient
	conn           *grpc.ClientConn
	collectionName string
	logger         *logging.Logger

	mu   sync.Mutex
	dims int
}

// ChunkHit is a single search result.
type ChunkHit struct {
	ID         string
	Score      float32
	DocumentID string
	ChunkIndex int64
	Content    string
	Payload    map[string]interface{}
}

// NewQdrantIndex dials address and returns an index over collectionName.
func NewQdrantIndex(address string, collectionName string, logger *logging.Logger) (*QdrantIndex, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	idx := newQdrantIndex(qdrant.NewPointsClient(conn), qdrant.NewCollectionsClient(conn), collectionName, logger)
	idx.conn = conn
	return idx, nil
}

func newQdrantIndex(points qdrant.PointsClient, collections qdrant.CollectionsClient, collectionName string, logger *logging.Logger) *QdrantIndex {
	return &QdrantIndex{
		points:         points,
		collections:    collections,
		collectionName: collectionName,
		logger:         logging.OrDefault(logger).Named("qdrant"),
	}
}

func (q *QdrantIndex) Name() string { return QdrantSinkName }

// Consume upserts every embedded chunk of result. Results without embedded
// chunks are ignored. Point IDs are derived from the document ID and chunk
// index, so re-indexing a document overwrites its points.
func (q *QdrantIndex) Consume(ctx context.Context, result *types.ExtractionResult) error {
	var embedded []int
	for i, ch := range result.Chunks {
		if len(ch.Embedding) > 0 {
			embedded = append(embedded, i)
		}
	}
	if len(embedded) == 0 {
		return nil
	}

	dims := len(result.Chunks[embedded[0]].Embedding)
	if err := q.ensureCollection(ctx, dims); err != nil {
		return err
	}

	docID := DocumentID(result)
	batch := make([]*qdrant.PointStruct, 0, upsertBatchSize)
	for _, i := range embedded {
		ch := result.Chunks[i]
		if len(ch.Embedding) != dims {
			return fmt.Errorf("invalid vector dimensions for chunk %d: expected %d, got %d", i, dims, len(ch.Embedding))
		}
		batch = append(batch, chunkPoint(docID, result, i))
		if len(batch) == upsertBatchSize {
			if err := q.upsert(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := q.upsert(ctx, batch); err != nil {
			return err
		}
	}

	q.logger.Debug("Chunks indexed", "document_id", docID, "points", len(embedded), "collection", q.collectionName)
	return nil
}

func (q *QdrantIndex) upsert(ctx context.Context, batch []*qdrant.PointStruct) error {
	wait := true
	_, err := q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Wait:           &wait,
		Points:         batch,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantIndex) ensureCollection(ctx context.Context, dims int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dims != 0 {
		if q.dims != dims {
			return fmt.Errorf("collection %s holds %d-dimensional vectors, got %d", q.collectionName, q.dims, dims)
		}
		return nil
	}

	listResp, err := q.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	for _, col := range listResp.GetCollections() {
		if col.GetName() == q.collectionName {
			q.dims = dims
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dims),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	q.logger.Info("Created Qdrant collection", "collection", q.collectionName, "dimensions", dims)
	q.dims = dims
	return nil
}

// Search returns the chunks closest to vector.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit int) ([]ChunkHit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if limit <= 0 {
		limit = 10
	}

	resp, err := q.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	hits := make([]ChunkHit, 0, len(resp.GetResult()))
	for _, sp := range resp.GetResult() {
		payload := fromPayload(sp.GetPayload())
		hit := ChunkHit{
			ID:      sp.GetId().GetUuid(),
			Score:   sp.GetScore(),
			Payload: payload,
		}
		hit.DocumentID, _ = payload["document_id"].(string)
		hit.Content, _ = payload["content"].(string)
		hit.ChunkIndex, _ = payload["chunk_index"].(int64)
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteDocument removes every point indexed for documentID.
func (q *QdrantIndex) DeleteDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return fmt.Errorf("document ID is required")
	}

	_, err := q.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{{
						ConditionOneOf: &qdrant.Condition_Field{
							Field: &qdrant.FieldCondition{
								Key:   "document_id",
								Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: documentID}},
							},
						},
					}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete document points: %w", err)
	}
	return nil
}

// Info returns collection statistics
func (q *QdrantIndex) Info(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	return map[string]interface{}{
		"collection_name": q.collectionName,
		"vectors_count":   info.GetResult().GetVectorsCount(),
		"points_count":    info.GetResult().GetPointsCount(),
		"indexed_vectors": info.GetResult().GetIndexedVectorsCount(),
		"status":          info.GetResult().GetStatus().String(),
	}, nil
}

// HealthCheck verifies Qdrant answers. The collection itself may not exist
// until the first embedded result is written.
func (q *QdrantIndex) HealthCheck(ctx context.Context) error {
	if _, err := q.collections.List(ctx, &qdrant.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("qdrant health check failed: %w", err)
	}
	return nil
}

// Close closes the Qdrant client connection
func (q *QdrantIndex) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// DocumentID identifies result in external stores. A string "document_id"
// in the additional metadata wins; otherwise the ID is a hash of the MIME
// type and content.
func DocumentID(result *types.ExtractionResult) string {
	if id, ok := result.Metadata.Additional["document_id"].(string); ok && id != "" {
		return id
	}
	h := xxhash.New()
	_, _ = h.WriteString(result.MimeType)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(result.Content)
	return strconv.FormatUint(h.Sum64(), 16)
}

// ChunkPointID is the deterministic point ID of chunk index of documentID.
func ChunkPointID(documentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

func chunkPoint(docID string, result *types.ExtractionResult, i int) *qdrant.PointStruct {
	ch := result.Chunks[i]
	meta := map[string]interface{}{
		"document_id":  docID,
		"chunk_index":  int64(ch.Metadata.ChunkIndex),
		"total_chunks": int64(ch.Metadata.TotalChunks),
		"content":      ch.Content,
		"mime_type":    result.MimeType,
		"byte_start":   int64(ch.Metadata.ByteStart),
		"byte_end":     int64(ch.Metadata.ByteEnd),
	}
	if ch.Metadata.FirstPage != nil {
		meta["first_page"] = int64(*ch.Metadata.FirstPage)
	}
	if ch.Metadata.LastPage != nil {
		meta["last_page"] = int64(*ch.Metadata.LastPage)
	}

	return &qdrant.PointStruct{
		Id: &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{Uuid: ChunkPointID(docID, i)},
		},
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vector{
				Vector: &qdrant.Vector{Data: ch.Embedding},
			},
		},
		Payload: toPayload(meta),
	}
}

func toPayload(meta map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	meta := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			meta[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			meta[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			meta[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			meta[k] = val.BoolValue
		}
	}
	return meta
}
