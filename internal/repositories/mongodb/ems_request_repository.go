package mongodb

import (
	"context"
	"fmt"
	"time"

	"emsdispatch/internal/models"
	"emsdispatch/internal/repositories/interfaces"
	"emsdispatch/internal/services"
	"emsdispatch/internal/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type emsRequestRepository struct {
	collection *mongo.Collection
	cache      services.CacheService
}

func NewEMSRequestRepository(db *mongo.Database, cache services.CacheService) interfaces.EMSRequestRepository {
	return &emsRequestRepository{
		collection: db.Collection("ems_requests"),
		cache:      cache,
	}
}

// EnsureEMSRequestIndexes creates the indexes the claim invariants depend on.
// The two partial unique indexes are what make "one non-terminal request per
// actor" hold under concurrent writes: a second insert for the same requester,
// or a second claim by the same responder, fails with a duplicate key error
// instead of racing past a read-then-write check.
//
// Requires MongoDB 6.0 or newer: $in inside a partialFilterExpression is not
// accepted by older servers, so index creation fails at startup there.
func EnsureEMSRequestIndexes(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection("ems_requests")

	nonTerminal := bson.M{"status": bson.M{"$in": models.NonTerminalStatuses}}

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "requester_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_active_requester").
				SetUnique(true).
				SetPartialFilterExpression(nonTerminal),
		},
		{
			Keys: bson.D{{Key: "responder_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_active_responder").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"status":       bson.M{"$in": models.NonTerminalStatuses},
					"responder_id": bson.M{"$type": "objectId"},
				}),
		},
		{
			Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "priority_level", Value: -1},
				{Key: "created_at", Value: 1},
			},
			Options: options.Index().SetName("dispatch_queue_sort"),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create ems_requests indexes: %w", err)
	}

	return nil
}

func (r *emsRequestRepository) Create(ctx context.Context, request *models.EMSRequest) error {
	now := time.Now()
	request.ID = primitive.NewObjectID()
	request.Status = models.EMSStatusPending
	request.PriorityLevel = request.Priority.Level()
	request.CreatedAt = now
	request.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, request)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return interfaces.ErrDuplicateActive
		}
		return fmt.Errorf("failed to create ems request: %w", err)
	}

	r.cacheRequest(ctx, request)

	return nil
}

func (r *emsRequestRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*models.EMSRequest, error) {
	if request := r.getRequestFromCache(ctx, id.Hex()); request != nil {
		return request, nil
	}

	var request models.EMSRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&request)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ems request: %w", err)
	}

	if !request.Status.IsTerminal() {
		r.cacheRequest(ctx, &request)
	}

	return &request, nil
}

func (r *emsRequestRepository) Update(ctx context.Context, id primitive.ObjectID, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()

	result, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": updates},
	)
	if err != nil {
		return fmt.Errorf("failed to update ems request: %w", err)
	}
	if result.MatchedCount == 0 {
		return interfaces.ErrNotFound
	}

	r.invalidateRequestCache(ctx, id.Hex())

	return nil
}

func (r *emsRequestRepository) UpdateStatusGuarded(ctx context.Context, id primitive.ObjectID, fromStatus, toStatus models.EMSStatus, notes *string) (*models.EMSRequest, error) {
	now := time.Now()

	set := bson.M{
		"status":     toStatus,
		"updated_at": now,
	}
	if field := models.TimestampField(toStatus); field != "" {
		set[field] = now
	}
	if notes != nil {
		set["notes"] = *notes
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.EMSRequest
	err := r.collection.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id, "status": fromStatus},
		bson.M{"$set": set},
		opts,
	).Decode(&updated)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("failed to update ems request status: %w", err)
	}

	r.invalidateRequestCache(ctx, id.Hex())

	return &updated, nil
}

func (r *emsRequestRepository) Claim(ctx context.Context, id primitive.ObjectID, responderID primitive.ObjectID, position *models.GeoPoint) (*models.EMSRequest, error) {
	now := time.Now()

	set := bson.M{
		"responder_id":  responderID,
		"status":        models.EMSStatusEnroute,
		"dispatch_time": now,
		"updated_at":    now,
	}
	if position != nil {
		set["responder_position"] = position
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated models.EMSRequest
	err := r.collection.FindOneAndUpdate(
		ctx,
		bson.M{
			"_id":          id,
			"status":       models.EMSStatusPending,
			"responder_id": nil,
		},
		bson.M{"$set": set},
		opts,
	).Decode(&updated)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// uniq_active_responder fired: the responder won some other
			// claim concurrently.
			return nil, interfaces.ErrDuplicateActive
		}
		if err == mongo.ErrNoDocuments {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, fmt.Errorf("failed to claim ems request: %w", err)
	}

	r.invalidateRequestCache(ctx, id.Hex())

	return &updated, nil
}

func (r *emsRequestRepository) UpdateResponderPosition(ctx context.Context, id primitive.ObjectID, position models.GeoPoint) error {
	return r.Update(ctx, id, map[string]interface{}{
		"responder_position": position,
	})
}

func (r *emsRequestRepository) GetActiveRequests(ctx context.Context) ([]*models.EMSRequest, error) {
	filter := bson.M{
		"status": bson.M{"$in": models.NonTerminalStatuses},
	}

	// Priority queue order: critical first, oldest first within a priority.
	sort := bson.D{
		{Key: "priority_level", Value: -1},
		{Key: "created_at", Value: 1},
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, fmt.Errorf("failed to find active ems requests: %w", err)
	}
	defer cursor.Close(ctx)

	return decodeRequests(ctx, cursor)
}

func (r *emsRequestRepository) GetActiveByRequester(ctx context.Context, requesterID primitive.ObjectID) (*models.EMSRequest, error) {
	return r.findActiveOne(ctx, bson.M{"requester_id": requesterID})
}

func (r *emsRequestRepository) GetActiveByResponder(ctx context.Context, responderID primitive.ObjectID) (*models.EMSRequest, error) {
	return r.findActiveOne(ctx, bson.M{"responder_id": responderID})
}

func (r *emsRequestRepository) GetByRequester(ctx context.Context, requesterID primitive.ObjectID, params *utils.PaginationParams) ([]*models.EMSRequest, int64, error) {
	return r.findRequestsWithFilter(ctx, bson.M{"requester_id": requesterID}, params)
}

func (r *emsRequestRepository) GetByResponder(ctx context.Context, responderID primitive.ObjectID, params *utils.PaginationParams) ([]*models.EMSRequest, int64, error) {
	return r.findRequestsWithFilter(ctx, bson.M{"responder_id": responderID}, params)
}

// Helper methods
func (r *emsRequestRepository) classifyMiss(ctx context.Context, id primitive.ObjectID) error {
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to look up ems request: %w", err)
	}
	if count == 0 {
		return interfaces.ErrNotFound
	}
	return interfaces.ErrNoMatch
}

func (r *emsRequestRepository) findActiveOne(ctx context.Context, filter bson.M) (*models.EMSRequest, error) {
	filter["status"] = bson.M{"$in": models.NonTerminalStatuses}

	var request models.EMSRequest
	err := r.collection.FindOne(ctx, filter).Decode(&request)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find active ems request: %w", err)
	}

	return &request, nil
}

func (r *emsRequestRepository) findRequestsWithFilter(ctx context.Context, filter bson.M, params *utils.PaginationParams) ([]*models.EMSRequest, int64, error) {
	total, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count ems requests: %w", err)
	}

	opts := params.GetSortOptions()
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find ems requests: %w", err)
	}
	defer cursor.Close(ctx)

	requests, err := decodeRequests(ctx, cursor)
	if err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func decodeRequests(ctx context.Context, cursor *mongo.Cursor) ([]*models.EMSRequest, error) {
	var requests []*models.EMSRequest
	for cursor.Next(ctx) {
		var request models.EMSRequest
		if err := cursor.Decode(&request); err != nil {
			return nil, fmt.Errorf("failed to decode ems request: %w", err)
		}
		requests = append(requests, &request)
	}

	return requests, nil
}

// Cache operations
func (r *emsRequestRepository) cacheRequest(ctx context.Context, request *models.EMSRequest) {
	if r.cache != nil {
		cacheKey := fmt.Sprintf("%s%s", utils.CacheEMSRequestPrefix, request.ID.Hex())
		r.cache.Set(ctx, cacheKey, request, utils.ActiveRequestCacheTTL)
	}
}

func (r *emsRequestRepository) getRequestFromCache(ctx context.Context, requestID string) *models.EMSRequest {
	if r.cache == nil {
		return nil
	}

	cacheKey := fmt.Sprintf("%s%s", utils.CacheEMSRequestPrefix, requestID)
	var request models.EMSRequest
	if err := r.cache.Get(ctx, cacheKey, &request); err != nil {
		return nil
	}

	return &request
}

func (r *emsRequestRepository) invalidateRequestCache(ctx context.Context, requestID string) {
	if r.cache != nil {
		cacheKey := fmt.Sprintf("%s%s", utils.CacheEMSRequestPrefix, requestID)
		r.cache.Delete(ctx, cacheKey)
	}
}
