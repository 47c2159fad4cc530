package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"github.com/mohitkumar/agentorchy/persistence"
	"github.com/mohitkumar/agentorchy/util"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type Config struct {
	URI        string
	Database   string
	Collection string
}

var _ persistence.WorkflowStore = new(mongoWorkflowStore)

// workflowDocument indexes the fields used for listing and keeps the full
// aggregate as an opaque JSON snapshot.
type workflowDocument struct {
	Id        string    `bson:"_id"`
	Status    string    `bson:"status"`
	UserId    string    `bson:"userId,omitempty"`
	Sequence  string    `bson:"sequence,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt"`
	Snapshot  string    `bson:"snapshot"`
}

type mongoWorkflowStore struct {
	client         *mongo.Client
	collection     *mongo.Collection
	encoderDecoder util.EncoderDecoder[model.Workflow]
}

func NewMongoWorkflowStore(ctx context.Context, conf Config) (*mongoWorkflowStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(conf.URI))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: "connecting to mongo", Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, persistence.StorageLayerError{Message: "pinging mongo", Err: err}
	}
	coll := client.Database(conf.Database).Collection(conf.Collection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updatedAt", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, persistence.StorageLayerError{Message: "creating workflow indexes", Err: err}
	}
	logger.Info("mongo workflow store ready", zap.String("database", conf.Database), zap.String("collection", conf.Collection))
	return &mongoWorkflowStore{
		client:         client,
		collection:     coll,
		encoderDecoder: util.NewJsonEncoderDecoder[model.Workflow](),
	}, nil
}

func (s *mongoWorkflowStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *mongoWorkflowStore) SaveWorkflow(ctx context.Context, wf *model.Workflow) error {
	doc, err := toDocument(s.encoderDecoder, wf)
	if err != nil {
		return persistence.StorageLayerError{Message: "encoding workflow " + wf.Id, Err: err}
	}
	_, err = s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: wf.Id}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		logger.Error("error saving workflow", zap.String("workflowId", wf.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: "saving workflow " + wf.Id, Err: err}
	}
	return nil
}

func (s *mongoWorkflowStore) LoadWorkflow(ctx context.Context, workflowId string) (*model.Workflow, error) {
	var doc workflowDocument
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: workflowId}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", model.ErrWorkflowNotFound, workflowId)
		}
		return nil, persistence.StorageLayerError{Message: "loading workflow " + workflowId, Err: err}
	}
	wf, err := fromDocument(s.encoderDecoder, doc)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: "decoding workflow " + workflowId, Err: err}
	}
	return wf, nil
}

func (s *mongoWorkflowStore) DeleteWorkflow(ctx context.Context, workflowId string) error {
	if _, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: workflowId}}); err != nil {
		return persistence.StorageLayerError{Message: "deleting workflow " + workflowId, Err: err}
	}
	return nil
}

func (s *mongoWorkflowStore) ListWorkflows(ctx context.Context, filter persistence.ListFilter) ([]*model.Workflow, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cursor, err := s.collection.Find(ctx, listQuery(filter), opts)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: "listing workflows", Err: err}
	}
	var docs []workflowDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, persistence.StorageLayerError{Message: "reading workflows", Err: err}
	}
	out := make([]*model.Workflow, 0, len(docs))
	for _, doc := range docs {
		wf, err := fromDocument(s.encoderDecoder, doc)
		if err != nil {
			return nil, persistence.StorageLayerError{Message: "decoding workflow " + doc.Id, Err: err}
		}
		out = append(out, wf)
	}
	return out, nil
}

func listQuery(filter persistence.ListFilter) bson.D {
	q := bson.D{}
	if filter.Status != "" {
		q = append(q, bson.E{Key: "status", Value: string(filter.Status)})
	}
	if filter.UserId != "" {
		q = append(q, bson.E{Key: "userId", Value: filter.UserId})
	}
	return q
}

func toDocument(enc util.EncoderDecoder[model.Workflow], wf *model.Workflow) (workflowDocument, error) {
	data, err := enc.Encode(*wf)
	if err != nil {
		return workflowDocument{}, err
	}
	seq := wf.SequenceName
	if seq == "" {
		seq = wf.TemplateName
	}
	return workflowDocument{
		Id:        wf.Id,
		Status:    string(wf.Status),
		UserId:    wf.Metadata.UserId,
		Sequence:  seq,
		UpdatedAt: wf.Metadata.UpdatedAt,
		Snapshot:  string(data),
	}, nil
}

func fromDocument(enc util.EncoderDecoder[model.Workflow], doc workflowDocument) (*model.Workflow, error) {
	return enc.Decode([]byte(doc.Snapshot))
}
