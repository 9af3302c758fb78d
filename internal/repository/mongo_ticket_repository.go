package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

const ticketsCollection = "tickets"

type mongoTicketRepository struct {
	col *mongo.Collection
}

// NewMongoTicketRepository instantiates the document-store ticket store.
func NewMongoTicketRepository(db *mongo.Database) TicketRepository {
	return &mongoTicketRepository{col: db.Collection(ticketsCollection)}
}

// EnsureMongoIndexes creates the indexes the ticket queries rely on.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(ticketsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "assigned_to.id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "created_by.id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "auto_complete_timeout_at", Value: 1}}},
	})
	return err
}

func (r *mongoTicketRepository) Create(ctx context.Context, ticket *domain.Ticket) (*domain.Ticket, error) {
	record := ticket.Clone()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.Version = 1
	if _, err := r.col.InsertOne(ctx, record); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": record.ID})
		}
		return nil, apperrors.NewStorageError("create ticket", err)
	}
	return record.Clone(), nil
}

func (r *mongoTicketRepository) Get(ctx context.Context, id string) (*domain.Ticket, bool, error) {
	var ticket domain.Ticket
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&ticket); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, apperrors.NewStorageError("get ticket", err)
	}
	return &ticket, true, nil
}

func (r *mongoTicketRepository) Update(ctx context.Context, id string, ticket *domain.Ticket) (*domain.Ticket, error) {
	record := ticket.Clone()
	record.ID = id
	record.Version = ticket.Version + 1
	record.UpdatedAt = time.Now()

	opts := options.FindOneAndReplace().SetReturnDocument(options.After)
	var stored domain.Ticket
	err := r.col.FindOneAndReplace(ctx, bson.M{"_id": id, "version": ticket.Version}, record, opts).Decode(&stored)
	if err == nil {
		return &stored, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperrors.NewStorageError("update ticket", err)
	}

	current, found, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	return nil, apperrors.NewVersionConflict(id, ticket.Version, current.Version)
}

func (r *mongoTicketRepository) ListByStatus(ctx context.Context, query StatusQuery) ([]domain.Ticket, error) {
	return r.find(ctx, statusFilter(query), query)
}

func (r *mongoTicketRepository) ListEngineerTicketsByStatus(ctx context.Context, engineerID string, query StatusQuery) ([]domain.Ticket, error) {
	filter := statusFilter(query)
	filter["assigned_to.id"] = engineerID
	return r.find(ctx, filter, query)
}

func (r *mongoTicketRepository) find(ctx context.Context, filter bson.M, query StatusQuery) ([]domain.Ticket, error) {
	limit, offset := query.page()
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	return r.findWith(ctx, filter, opts)
}

func (r *mongoTicketRepository) findWith(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Ticket, error) {
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, apperrors.NewStorageError("list tickets", err)
	}
	result := []domain.Ticket{}
	if err := cursor.All(ctx, &result); err != nil {
		return nil, apperrors.NewStorageError("list tickets", err)
	}
	return result, nil
}

func (r *mongoTicketRepository) GetActiveTicketByCustomer(ctx context.Context, customerID string) (*domain.Ticket, bool, error) {
	filter := bson.M{
		"created_by.id": customerID,
		"status":        bson.M{"$in": statusStrings(domain.NonTerminalTicketStatuses)},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var ticket domain.Ticket
	if err := r.col.FindOne(ctx, filter, opts).Decode(&ticket); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, apperrors.NewStorageError("get active ticket", err)
	}
	return &ticket, true, nil
}

func (r *mongoTicketRepository) CountByStatus(ctx context.Context, status domain.TicketStatus) (int, error) {
	return r.count(ctx, bson.M{"status": string(status)})
}

func (r *mongoTicketRepository) CountActiveByEngineer(ctx context.Context, engineerID string) (int, error) {
	return r.count(ctx, bson.M{
		"assigned_to.id": engineerID,
		"status":         bson.M{"$in": statusStrings(domain.ActiveTicketStatuses)},
	})
}

func (r *mongoTicketRepository) count(ctx context.Context, filter bson.M) (int, error) {
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return 0, apperrors.NewStorageError("count tickets", err)
	}
	return int(total), nil
}

func (r *mongoTicketRepository) ListDueForAutoComplete(ctx context.Context, now time.Time, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.M{
		"status":                   string(domain.TicketStatusAwaitingConfirmation),
		"auto_complete_timeout_at": bson.M{"$lte": now},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "auto_complete_timeout_at", Value: 1}}).
		SetLimit(int64(limit))
	return r.findWith(ctx, filter, opts)
}

func (r *mongoTicketRepository) ListAll(ctx context.Context) ([]domain.Ticket, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return r.findWith(ctx, bson.M{}, opts)
}

func (r *mongoTicketRepository) Clear(ctx context.Context) error {
	if _, err := r.col.DeleteMany(ctx, bson.M{}); err != nil {
		return apperrors.NewStorageError("clear tickets", err)
	}
	return nil
}

// Reload verifies the server is reachable; reads always hit the server.
func (r *mongoTicketRepository) Reload(ctx context.Context) error {
	if err := r.col.Database().Client().Ping(ctx, nil); err != nil {
		return apperrors.NewStorageError("reload tickets", err)
	}
	return nil
}

func statusFilter(query StatusQuery) bson.M {
	if len(query.Statuses) == 0 {
		return bson.M{}
	}
	return bson.M{"status": bson.M{"$in": statusStrings(query.Statuses)}}
}
